package ingest

import (
	"encoding/json"
	"time"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/types"
)

// validate rejects payloads the pipeline must never apply. The returned error
// is always a validation kind; callers quarantine the payload with its reason.
func validate(in *SubmitInput, skewBudget time.Duration, now time.Time) error {
	if in.TenantID == "" {
		return apierr.Validationf("missing_tenant", "tenant_id is required")
	}
	if in.PlatformID == "" {
		return apierr.Validationf("missing_platform", "platform_id is required")
	}
	if in.EventID == "" {
		return apierr.Validationf("missing_event_id", "event_id is required")
	}
	if in.PlatformCustomerID == "" {
		return apierr.Validationf("missing_customer", "platform_customer_id is required")
	}
	if _, ok := types.KnownEventKinds[in.Kind]; !ok {
		return apierr.Validationf("unknown_kind", "unknown event kind %q", in.Kind)
	}
	if in.OccurredAt.IsZero() {
		return apierr.Validationf("missing_occurred_at", "occurred_at is required")
	}
	if skew := in.OccurredAt.Sub(now); skew > skewBudget || skew < -skewBudget {
		return apierr.Validationf("clock_skew_exceeded",
			"occurred_at %s is outside the accepted skew window", in.OccurredAt.Format(time.RFC3339))
	}

	for _, key := range []string{"duration_seconds", "confidence", "total_amount", "quantity", "price"} {
		if v, ok := in.Properties[key]; ok {
			if f, ok := asFloat(v); ok && f < 0 {
				return apierr.Validationf("negative_numeric", "property %s must not be negative, got %v", key, f)
			}
		}
	}

	if in.Kind == types.EventKindPurchase {
		total, ok := asFloat(in.Properties["total_amount"])
		if !ok || total <= 0 {
			return apierr.Validationf("invalid_purchase", "purchase events require a positive total_amount")
		}
		items, ok := in.Properties["items"].([]interface{})
		if !ok || len(items) == 0 {
			return apierr.Validationf("invalid_purchase", "purchase events require a non-empty items list")
		}
	}
	return nil
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
