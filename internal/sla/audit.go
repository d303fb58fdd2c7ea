package sla

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// PolicyLister lists every configured policy, active or not.
type PolicyLister interface {
	ListPolicies(ctx context.Context) ([]Policy, error)
}

// AuditPolicies validates every active policy and checks that exactly one
// active default exists. Each problem is logged and counted; the returned
// error joins them all.
func AuditPolicies(ctx context.Context, lister PolicyLister, logger zerolog.Logger) error {
	policies, err := lister.ListPolicies(ctx)
	if err != nil {
		return storeErr("list policies", err)
	}
	var (
		errs     []error
		defaults int
	)
	for i := range policies {
		p := &policies[i]
		if !p.IsActive {
			continue
		}
		if p.IsDefault {
			defaults++
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if defaults != 1 {
		errs = append(errs, &ConfigError{
			Reason: ReasonNoPolicy,
			Err:    fmt.Errorf("%d active default policies, want 1", defaults),
		})
	}
	for _, err := range errs {
		reason := ReasonInvalidPolicy
		var ce *ConfigError
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		ConfigurationErrorsTotal.WithLabelValues(reason).Inc()
		logger.Error().Err(err).Str("kind", "configuration").Str("reason", reason).Msg("sla policy audit")
	}
	if len(errs) == 0 {
		logger.Info().Int("policies", len(policies)).Msg("sla policy audit passed")
	}
	return errors.Join(errs...)
}
