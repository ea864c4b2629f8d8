package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/logging"
	"mostrador/backend/internal/metrics"
	"mostrador/backend/internal/service"
	"mostrador/backend/internal/store"
)

const maxJSONBody = 1 << 20

type Options struct {
	AllowedOrigin           string
	Production              bool
	RateLimitPerMinute      int
	LoginRateLimitPerMinute int
	PINRateLimitPerMinute   int
	RequestTimeout          time.Duration
	Metrics                 *metrics.Metrics
	Logger                  *zap.Logger

	// Refresher, when set, is nudged after web order intake and payment so
	// terminals see the change before the next scheduled poll.
	Refresher RefreshTrigger
}

type RefreshTrigger interface {
	EnqueueWebOrdersRefresh(ctx context.Context) error
}

type API struct {
	service    *service.Service
	auth       *AuthManager
	metrics    *metrics.Metrics
	logger     *zap.Logger
	validate   *validator.Validate
	opts       Options
	csrfSecret []byte
	router     http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 120
	}
	if opts.LoginRateLimitPerMinute <= 0 {
		opts.LoginRateLimitPerMinute = 5
	}
	if opts.PINRateLimitPerMinute <= 0 {
		opts.PINRateLimitPerMinute = 8
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	a := &API{
		service:    svc,
		auth:       auth,
		metrics:    opts.Metrics,
		logger:     logging.OrNop(opts.Logger),
		validate:   validate,
		opts:       opts,
		csrfSecret: csrfSecret,
	}
	a.router = a.routes()
	return a
}

// Handler returns the router. Rate limiter state lives in the router, so
// callers share one instance.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		a.requestLogger,
		middleware.Recoverer,
		a.secureHeaders(),
		cors.New(cors.Options{
			AllowedOrigins: []string{a.opts.AllowedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token", "Idempotency-Key"},
			MaxAge:         300,
		}).Handler,
		limitJSONBody,
		middleware.Timeout(a.opts.RequestTimeout),
		httprate.Limit(a.opts.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests),
		),
	)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(httprate.Limit(a.opts.LoginRateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests),
		)).Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate, a.checkCSRF)
			anyStaff := a.requireRole(domain.RoleCashier, domain.RoleManager, domain.RoleAdmin)
			managers := a.requireRole(domain.RoleManager, domain.RoleAdmin)
			admins := a.requireRole(domain.RoleAdmin)

			r.With(anyStaff).Get("/products", a.handleListProducts)
			r.With(anyStaff).Get("/products/{id}/movements", a.handleListMovements)
			r.With(managers).Post("/products/{id}/receive", a.handleReceiveStock)
			r.With(managers).Post("/products/{id}/adjust", a.handleAdjustStock)
			r.With(anyStaff).Get("/alerts", a.handleListAlerts)

			r.With(anyStaff).Post("/checkout", a.handleCheckout)

			r.With(anyStaff).Post("/orders", a.handleCreateDraft)
			r.With(anyStaff).Get("/orders/{id}", a.handleGetOrder)
			r.With(anyStaff).Get("/orders/{id}/events", a.handleListOrderEvents)
			r.With(anyStaff).Post("/orders/{id}/quote", a.handleQuoteOrder)
			r.With(managers).Post("/orders/{id}/transition", a.handleTransitionOrder)
			r.With(managers).Post("/orders/{id}/cancel", a.handleCancelOrder)

			r.With(anyStaff).Get("/web-orders/pending", a.handlePendingWebOrders)
			r.With(admins).Post("/web-orders", a.handleCreateWebOrder)
			r.With(admins).Post("/web-orders/{id}/payment", a.handleWebPayment)
			r.With(anyStaff).Post("/web-orders/{id}/claim", a.handleClaimWebOrder)

			r.With(anyStaff).Post("/sessions/open", a.handleOpenSession)
			r.With(anyStaff).Get("/sessions/{id}", a.handleGetSession)
			r.With(anyStaff).Post("/sessions/{id}/close", a.handleCloseSession)
			r.With(anyStaff).Get("/terminals/{id}/session", a.handleCurrentSession)

			r.With(anyStaff).Get("/customers/{id}/credit", a.handleCreditProfile)
			r.With(managers, httprate.Limit(a.opts.PINRateLimitPerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(tooManyRequests),
			)).Post("/customers/{id}/credit", a.handleCreditTransaction)
			r.With(managers).Post("/customers/{id}/credit/status", a.handleCreditStatus)

			r.With(anyStaff).Get("/rules/wholesale", a.handleGetWholesaleRule)
			r.With(admins).Put("/rules/wholesale", a.handleSetWholesaleRule)

			r.With(admins).Get("/audit-logs", a.handleAuditLogs)
			r.With(admins).Get("/users", a.handleListStaff)
			r.With(admins).Post("/users", a.handleCreateStaff)
		})
	})

	return r
}

func (a *API) secureHeaders() func(http.Handler) http.Handler {
	return secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           a.opts.Production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	}).Handler
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// csrfTokenForHour computes the hex HMAC-SHA256 token for an hour bucket
// expressed as Unix seconds.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

// checkCSRF requires X-CSRF-Token on every state-changing request behind
// authentication.
func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
				writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// decode reads a JSON body into dest and runs struct validation. It
// writes the 400 response itself and reports whether the handler may go on.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			writeError(w, http.StatusBadRequest, domain.Invalid(first.Field(), "failed "+first.Tag()+" check"))
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// decodeJSON treats an empty body as an empty object so bodiless actions
// such as cancel fall through to validation.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// statusFor maps categorized errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInsufficientCredit),
		errors.Is(err, domain.ErrCreditNotActive),
		errors.Is(err, domain.ErrInsufficientCashTendered):
		return http.StatusPaymentRequired
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSessionAlreadyOpen),
		errors.Is(err, domain.ErrNoOpenSession),
		errors.Is(err, domain.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

func (a *API) triggerRefresh(r *http.Request) {
	if a.opts.Refresher == nil {
		return
	}
	if err := a.opts.Refresher.EnqueueWebOrdersRefresh(r.Context()); err != nil {
		a.logger.Warn("enqueue web order refresh", zap.Error(err))
	}
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeError hides the message of 5xx responses.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
