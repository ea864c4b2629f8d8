package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mostrador/backend/internal/domain"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := a.service.ListMovements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiveStockRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.ReceiveStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.AdjustStockRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.service.ListActiveAlerts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req domain.DraftOrderRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.CreateDraft(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleListOrderEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.service.ListOrderEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleQuoteOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.QuoteOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleTransitionOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.TransitionRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.TransitionOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelOrderRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.CancelOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handlePendingWebOrders(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListPendingWebOrders(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateWebOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.WebOrderRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.CreateWebOrder(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.triggerRefresh(r)
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (a *API) handleWebPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.WebPaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.ConfirmWebPayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.triggerRefresh(r)
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleClaimWebOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.ClaimRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.ClaimWebOrder(r.Context(), chi.URLParam(r, "id"), req.TerminalID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionOpenRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.service.OpenSession(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.SessionResponse{Session: session})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SessionResponse{Session: session})
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionCloseRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.service.CloseSession(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SessionResponse{Session: session})
}

func (a *API) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.CurrentSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SessionResponse{Session: session})
}

func (a *API) handleCreditProfile(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	resp, err := a.service.GetCreditProfile(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreditTransaction requires the manager PIN for entries that move
// the balance or limit by hand.
func (a *API) handleCreditTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditTransactionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.TransactionType == domain.CreditAdjustment || req.TransactionType == domain.CreditLimitChange {
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			writeError(w, http.StatusForbidden, errors.New("manager PIN required"))
			return
		}
	}
	req.ManagerPIN = ""

	resp, err := a.service.RegisterCreditTransaction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCreditStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditStatusRequest
	if !a.decode(w, r, &req) {
		return
	}
	customer, err := a.service.SetCreditStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleGetWholesaleRule(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetWholesaleRule(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSetWholesaleRule(w http.ResponseWriter, r *http.Request) {
	var req domain.WholesaleRuleRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.SetWholesaleRule(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("entity_type"), query.Get("entity_id"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListStaff(r.Context())})
}

func (a *API) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.auth.CreateStaff(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}
