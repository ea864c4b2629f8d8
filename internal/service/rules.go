package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/pricing"
	"mostrador/backend/internal/store"
)

func (s *Service) GetWholesaleRule(ctx context.Context) (domain.WholesaleRuleResponse, error) {
	stored, err := s.repo.GetBusinessRule(ctx, domain.RuleWholesaleThreshold)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.WholesaleRuleResponse{}, err
	}
	if stored == nil {
		return toRuleResponse(s.rule, "", time.Time{}), nil
	}
	return toRuleResponse(pricing.RuleFrom(stored, s.rule), stored.UpdatedBy, stored.UpdatedAt), nil
}

// SetWholesaleRule stores a new threshold. Carts priced after the commit use
// it; orders already confirmed keep their prices.
func (s *Service) SetWholesaleRule(ctx context.Context, req domain.WholesaleRuleRequest) (domain.WholesaleRuleResponse, error) {
	cents, err := domain.ParseAmount(req.Threshold)
	if err != nil {
		return domain.WholesaleRuleResponse{}, domain.Invalid("threshold", "must be a non-negative amount such as 3000.00")
	}

	rule := domain.BusinessRule{
		Key:        domain.RuleWholesaleThreshold,
		ValueCents: cents,
		Active:     req.Active,
		UpdatedBy:  actorName(ctx),
		UpdatedAt:  s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.UpsertBusinessRule(ctx, rule); err != nil {
			return err
		}
		return s.audit(ctx, tx, "rule_update", "business_rule", rule.Key, "threshold="+domain.FormatAmount(rule.ValueCents))
	})
	if err != nil {
		return domain.WholesaleRuleResponse{}, err
	}

	resp := toRuleResponse(pricing.RuleFrom(&rule, s.rule), rule.UpdatedBy, rule.UpdatedAt)
	s.logger.Info("wholesale rule updated",
		zap.Int64("threshold_cents", rule.ValueCents),
		zap.Bool("active", rule.Active),
		zap.String("actor", rule.UpdatedBy),
	)
	return resp, nil
}

func toRuleResponse(rule pricing.Rule, updatedBy string, updatedAt time.Time) domain.WholesaleRuleResponse {
	resp := domain.WholesaleRuleResponse{
		Threshold:      domain.FormatAmount(rule.ThresholdCents),
		ThresholdCents: rule.ThresholdCents,
		Active:         rule.Active,
		UpdatedBy:      updatedBy,
	}
	if !updatedAt.IsZero() {
		resp.UpdatedAt = updatedAt.Format(time.RFC3339)
	}
	return resp
}
