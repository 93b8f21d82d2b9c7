package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/types"
)

// Resolution is the outcome of mapping a platform-scoped customer to a global
// one.
type Resolution struct {
	GlobalCustomerID uuid.UUID `json:"global_customer_id"`
	Method           string    `json:"method"`
	Confidence       float64   `json:"confidence"`
	NewCustomer      bool      `json:"new_customer"`
}

// Resolver maps (platform_id, platform_customer_id) pairs to global customers.
// Strong identifiers bind deterministically, a unique demographic composite
// binds probabilistically, and everything else mints a fresh identity.
type Resolver interface {
	Resolve(ctx context.Context, platformID, platformCustomerID string, hint *types.IdentityHint) (*Resolution, error)
	Merge(ctx context.Context, winnerID, loserID uuid.UUID, note string) error
	Bindings(ctx context.Context, customerID uuid.UUID) ([]*types.IdentityBinding, error)
}

type resolver struct {
	log        *logger.Logger
	identities repos.IdentityRepo
	signals    signal.Store
	locks      *signal.KeyedMutex
	retry      apierr.RetryPolicy
}

func NewResolver(baseLog *logger.Logger, identities repos.IdentityRepo, signals signal.Store, locks *signal.KeyedMutex) Resolver {
	return &resolver{
		log:        baseLog.With("component", "IdentityResolver"),
		identities: identities,
		signals:    signals,
		locks:      locks,
		retry:      apierr.DefaultRetryPolicy(),
	}
}

// lockKeyFor derives a stable uuid from the platform pair so concurrent
// resolutions of the same pair serialise on the shared keyed mutex.
func lockKeyFor(platformID, platformCustomerID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(platformID+"\x00"+platformCustomerID))
}

func compositeValue(hint *types.IdentityHint) string {
	if hint == nil {
		return ""
	}
	if hint.City == "" || hint.State == "" || hint.AgeGroup == "" || hint.Pincode == "" {
		return ""
	}
	return strings.ToLower(strings.Join([]string{hint.City, hint.State, hint.AgeGroup, hint.Pincode}, "|"))
}

func (r *resolver) Resolve(ctx context.Context, platformID, platformCustomerID string, hint *types.IdentityHint) (*Resolution, error) {
	if platformID == "" || platformCustomerID == "" {
		return nil, apierr.Validationf("missing_platform_identity", "platform_id and platform_customer_id are required")
	}

	key := lockKeyFor(platformID, platformCustomerID)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	now := time.Now().UTC()

	var binding *types.IdentityBinding
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var readErr error
		binding, readErr = r.identities.GetActiveBinding(ctx, nil, platformID, platformCustomerID)
		if readErr != nil {
			return apierr.New(apierr.KindTransient, "binding_read_failed", readErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if binding != nil {
		if err := r.identities.TouchBinding(ctx, nil, binding.ID, now); err != nil {
			r.log.Warn("Failed to touch identity binding", "binding_id", binding.ID, "error", err)
		}
		r.recordTraits(ctx, binding.GlobalCustomerID, hint)
		r.applyDemographics(ctx, binding.GlobalCustomerID, hint, binding.Method)
		return &Resolution{
			GlobalCustomerID: binding.GlobalCustomerID,
			Method:           binding.Method,
			Confidence:       binding.Confidence,
		}, nil
	}

	method := types.IdentityMethodDeterministic
	confidence := 1.0
	var customerID uuid.UUID
	newCustomer := false

	if customerID, err = r.matchStrong(ctx, hint); err != nil {
		return nil, err
	}
	if customerID == uuid.Nil {
		customerID, err = r.matchComposite(ctx, hint)
		if err != nil {
			return nil, err
		}
		if customerID != uuid.Nil {
			method = types.IdentityMethodProbabilistic
			confidence = 0.8
		}
	}
	if customerID == uuid.Nil {
		customerID = uuid.New()
		newCustomer = true
	}

	binding = &types.IdentityBinding{
		ID:                 uuid.New(),
		GlobalCustomerID:   customerID,
		PlatformID:         platformID,
		PlatformCustomerID: platformCustomerID,
		Method:             method,
		Confidence:         confidence,
		Active:             true,
		FirstSeen:          now,
		LastSeen:           now,
	}
	if err := r.identities.CreateBinding(ctx, nil, binding); err != nil {
		return nil, apierr.New(apierr.KindTransient, "binding_write_failed", err)
	}
	r.log.Info("Identity bound",
		"platform_id", platformID,
		"platform_customer_id", platformCustomerID,
		"global_customer_id", customerID,
		"method", method,
		"new_customer", newCustomer,
	)

	r.recordTraits(ctx, customerID, hint)
	r.applyDemographics(ctx, customerID, hint, method)

	return &Resolution{
		GlobalCustomerID: customerID,
		Method:           method,
		Confidence:       confidence,
		NewCustomer:      newCustomer,
	}, nil
}

// matchStrong returns the customer holding a matching hashed email or phone
// trait. Multiple customers sharing a strong identifier is an integrity
// violation and is surfaced, not papered over.
func (r *resolver) matchStrong(ctx context.Context, hint *types.IdentityHint) (uuid.UUID, error) {
	if hint == nil {
		return uuid.Nil, nil
	}
	for _, probe := range []struct {
		trait string
		value string
	}{
		{types.TraitHashedEmail, hint.HashedEmail},
		{types.TraitHashedPhone, hint.HashedPhone},
	} {
		if probe.value == "" {
			continue
		}
		ids, err := r.identities.FindCustomersByTrait(ctx, nil, probe.trait, probe.value)
		if err != nil {
			return uuid.Nil, apierr.New(apierr.KindTransient, "trait_read_failed", err)
		}
		switch len(ids) {
		case 0:
		case 1:
			return ids[0], nil
		default:
			return uuid.Nil, apierr.Integrityf("ambiguous_strong_identifier",
				"trait %s maps to %d customers", probe.trait, len(ids))
		}
	}
	return uuid.Nil, nil
}

// matchComposite binds on the demographic composite only when it identifies
// exactly one existing customer.
func (r *resolver) matchComposite(ctx context.Context, hint *types.IdentityHint) (uuid.UUID, error) {
	value := compositeValue(hint)
	if value == "" {
		return uuid.Nil, nil
	}
	ids, err := r.identities.FindCustomersByTrait(ctx, nil, types.TraitComposite, value)
	if err != nil {
		return uuid.Nil, apierr.New(apierr.KindTransient, "trait_read_failed", err)
	}
	if len(ids) == 1 {
		return ids[0], nil
	}
	return uuid.Nil, nil
}

// recordTraits persists the identifiers observed in this resolution so later
// cross-platform lookups can match them. Failures degrade matching quality but
// never fail the resolution.
func (r *resolver) recordTraits(ctx context.Context, customerID uuid.UUID, hint *types.IdentityHint) {
	if hint == nil {
		return
	}
	traits := []struct {
		trait string
		value string
	}{
		{types.TraitHashedEmail, hint.HashedEmail},
		{types.TraitHashedPhone, hint.HashedPhone},
		{types.TraitDevice, hint.DeviceFingerprint},
		{types.TraitComposite, compositeValue(hint)},
	}
	for _, t := range traits {
		if t.value == "" {
			continue
		}
		existing, err := r.identities.FindCustomersByTrait(ctx, nil, t.trait, t.value)
		if err != nil {
			r.log.Warn("Trait lookup failed", "trait", t.trait, "error", err)
			continue
		}
		already := false
		for _, id := range existing {
			if id == customerID {
				already = true
				break
			}
		}
		if already {
			continue
		}
		err = r.identities.CreateTrait(ctx, nil, &types.IdentityTrait{
			ID:               uuid.New(),
			GlobalCustomerID: customerID,
			Trait:            t.trait,
			Value:            t.value,
		})
		if err != nil {
			r.log.Warn("Trait write failed", "trait", t.trait, "error", err)
		}
	}
}

func (r *resolver) applyDemographics(ctx context.Context, customerID uuid.UUID, hint *types.IdentityHint, method string) {
	if hint == nil {
		return
	}
	if hint.City == "" && hint.State == "" && hint.AgeGroup == "" {
		return
	}
	if err := r.signals.UpdateDemographics(ctx, customerID, hint.City, hint.State, hint.AgeGroup, method); err != nil {
		r.log.Warn("Demographic update failed", "global_customer_id", customerID, "error", err)
	}
}

// Merge folds the loser identity into the winner. Every active binding of the
// loser is retired and recreated against the winner with an audit trail; the
// loser's counters stay in place under its old id, so the merge affects
// resolution from this point forward, not history.
func (r *resolver) Merge(ctx context.Context, winnerID, loserID uuid.UUID, note string) error {
	if winnerID == uuid.Nil || loserID == uuid.Nil {
		return apierr.Validationf("missing_customer", "both winner and loser ids are required")
	}
	if winnerID == loserID {
		return apierr.Validationf("self_merge", "cannot merge a customer into itself")
	}

	r.locks.Lock(loserID)
	defer r.locks.Unlock(loserID)

	bindings, err := r.identities.ListBindingsByCustomer(ctx, nil, loserID)
	if err != nil {
		return apierr.New(apierr.KindTransient, "binding_read_failed", err)
	}
	now := time.Now().UTC()
	merged := 0
	for _, b := range bindings {
		if !b.Active {
			continue
		}
		replacement := &types.IdentityBinding{
			ID:                 uuid.New(),
			GlobalCustomerID:   winnerID,
			PlatformID:         b.PlatformID,
			PlatformCustomerID: b.PlatformCustomerID,
			Method:             types.IdentityMethodDeterministic,
			Confidence:         1.0,
			Active:             true,
			AuditNote:          fmt.Sprintf("merged from %s: %s", loserID, note),
			FirstSeen:          b.FirstSeen,
			LastSeen:           now,
		}
		if err := r.identities.RetireBinding(ctx, nil, b.ID, replacement.ID, fmt.Sprintf("merged into %s: %s", winnerID, note)); err != nil {
			return apierr.New(apierr.KindTransient, "binding_write_failed", err)
		}
		if err := r.identities.CreateBinding(ctx, nil, replacement); err != nil {
			return apierr.New(apierr.KindTransient, "binding_write_failed", err)
		}
		merged++
	}
	if merged == 0 {
		return apierr.NotFoundf("no_active_bindings", "customer %s has no active bindings to merge", loserID)
	}
	r.log.Info("Identity merge applied",
		"winner", winnerID,
		"loser", loserID,
		"bindings", merged,
	)
	return nil
}

func (r *resolver) Bindings(ctx context.Context, customerID uuid.UUID) ([]*types.IdentityBinding, error) {
	if customerID == uuid.Nil {
		return nil, apierr.Validationf("missing_customer", "customer id required")
	}
	bindings, err := r.identities.ListBindingsByCustomer(ctx, nil, customerID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "binding_read_failed", err)
	}
	return bindings, nil
}
