package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid or inconsistent values.
// Struct tags cover per-field constraints; cross-field rules are checked
// explicitly afterwards.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	return validateCrossField(cfg)
}

// formatFieldError renders one validation failure as a readable message.
func formatFieldError(fe validator.FieldError) string {
	// Strip the leading "Config." from the namespace.
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// validateCrossField checks rules that span multiple fields or sections.
func validateCrossField(cfg *Config) error {
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return errors.New("telemetry.profiling.endpoint is required when profiling is enabled")
	}

	if cfg.Lock.AutoRenewalRatio < 0 || cfg.Lock.AutoRenewalRatio > 1 {
		return errors.New("lock.auto_renewal_ratio must be between 0 and 1")
	}

	if cfg.Sync.FlushBatchSize > cfg.Sync.MaxPendingWrites {
		return errors.New("sync.flush_batch_size cannot exceed sync.max_pending_writes")
	}

	// Lock waits longer than expiry would let a held lock lapse mid-wait.
	if cfg.Transaction.LockWait > cfg.Transaction.LockExpiry {
		return errors.New("transaction.lock_wait cannot exceed transaction.lock_expiry")
	}

	// Stats endpoints carry operational data; an empty secret leaves them
	// open, which is fine for local development but worth insisting on
	// a conscious choice for the realtime surface.
	if cfg.Auth.Secret == "" && cfg.API.IsEnabled() && cfg.API.AuthSecret != "" {
		return errors.New("api.auth_secret is set but auth.secret is empty; the realtime surface would accept no tokens")
	}

	return nil
}
