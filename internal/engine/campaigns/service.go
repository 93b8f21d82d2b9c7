package campaigns

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/types"
)

// Service fronts the campaign registry: CRUD for campaign rows plus the
// budget-guarded spend path. Spend goes through an optimistic CAS with a
// bounded retry, and every accepted charge lands in the append-only ledger.
type Service interface {
	Register(ctx context.Context, campaign *types.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*types.Campaign, error)
	List(ctx context.Context) ([]*types.Campaign, error)
	ListByBrand(ctx context.Context, brand string) ([]*types.Campaign, error)
	Spend(ctx context.Context, campaignID uuid.UUID, amount float64, occurredAt time.Time) error
}

type service struct {
	log        *logger.Logger
	campaigns  repos.CampaignRepo
	maxRetries int
}

func NewService(baseLog *logger.Logger, campaigns repos.CampaignRepo, casMaxRetries int) Service {
	if casMaxRetries <= 0 {
		casMaxRetries = 10
	}
	return &service{
		log:        baseLog.With("component", "CampaignService"),
		campaigns:  campaigns,
		maxRetries: casMaxRetries,
	}
}

func (s *service) Register(ctx context.Context, campaign *types.Campaign) error {
	if campaign == nil {
		return apierr.Validationf("missing_campaign", "campaign is required")
	}
	if campaign.Brand == "" {
		return apierr.Validationf("missing_brand", "campaign has no brand")
	}
	if campaign.TotalBudget <= 0 {
		return apierr.Validationf("invalid_budget", "total_budget must be positive, got %v", campaign.TotalBudget)
	}
	if !campaign.EndDate.After(campaign.StartDate) {
		return apierr.Validationf("invalid_flight", "end_date must be after start_date")
	}
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if campaign.Status == "" {
		campaign.Status = campaign.DerivedStatus(time.Now().UTC())
	}
	if err := s.campaigns.Create(ctx, nil, campaign); err != nil {
		return apierr.New(apierr.KindTransient, "campaign_write_failed", err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*types.Campaign, error) {
	if id == uuid.Nil {
		return nil, apierr.Validationf("missing_campaign", "campaign id required")
	}
	campaign, err := s.campaigns.GetByID(ctx, nil, id)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "campaign_read_failed", err)
	}
	if campaign == nil {
		return nil, apierr.NotFoundf("campaign_not_found", "campaign %s not found", id)
	}
	campaign.Status = campaign.DerivedStatus(time.Now().UTC())
	return campaign, nil
}

func (s *service) List(ctx context.Context) ([]*types.Campaign, error) {
	campaigns, err := s.campaigns.ListAll(ctx, nil)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "campaign_read_failed", err)
	}
	now := time.Now().UTC()
	for _, c := range campaigns {
		c.Status = c.DerivedStatus(now)
	}
	return campaigns, nil
}

func (s *service) ListByBrand(ctx context.Context, brand string) ([]*types.Campaign, error) {
	if brand == "" {
		return nil, apierr.Validationf("missing_brand", "brand required")
	}
	campaigns, err := s.campaigns.ListByBrand(ctx, nil, brand)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "campaign_read_failed", err)
	}
	now := time.Now().UTC()
	for _, c := range campaigns {
		c.Status = c.DerivedStatus(now)
	}
	return campaigns, nil
}

// Spend charges amount against the campaign budget. A lost CAS race re-reads
// and retries up to the bound; a 0-row update whose version did not move means
// the budget cannot absorb the charge, which is a conflict the caller sees.
func (s *service) Spend(ctx context.Context, campaignID uuid.UUID, amount float64, occurredAt time.Time) error {
	if campaignID == uuid.Nil {
		return apierr.Validationf("missing_campaign", "campaign id required")
	}
	if amount <= 0 {
		return apierr.Validationf("invalid_amount", "spend amount must be positive, got %v", amount)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		campaign, err := s.campaigns.GetByID(ctx, nil, campaignID)
		if err != nil {
			return apierr.New(apierr.KindTransient, "campaign_read_failed", err)
		}
		if campaign == nil {
			return apierr.NotFoundf("campaign_not_found", "campaign %s not found", campaignID)
		}
		if status := campaign.DerivedStatus(occurredAt); status != types.CampaignStatusActive {
			return apierr.Conflictf("campaign_not_active", "campaign %s is %s", campaignID, status)
		}
		if campaign.Spent+amount > campaign.TotalBudget {
			return apierr.Conflictf("budget_exhausted",
				"campaign %s cannot absorb %v with %v remaining",
				campaignID, amount, campaign.TotalBudget-campaign.Spent)
		}

		err = s.campaigns.AddSpendCAS(ctx, nil, campaignID, amount, campaign.Version)
		if errors.Is(err, repos.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return apierr.New(apierr.KindTransient, "spend_write_failed", err)
		}

		entry := &types.CampaignSpendEntry{
			ID:         uuid.New(),
			CampaignID: campaignID,
			Amount:     amount,
			OccurredAt: occurredAt.UTC(),
		}
		if err := s.campaigns.CreateSpendEntry(ctx, nil, entry); err != nil {
			s.log.Error("Spend ledger write failed after accepted charge",
				"campaign_id", campaignID,
				"amount", amount,
				"error", err,
			)
			return apierr.New(apierr.KindIntegrity, "spend_ledger_write_failed", err)
		}
		return nil
	}
	return apierr.Conflictf("spend_contention", "campaign %s spend lost %d CAS races", campaignID, s.maxRetries)
}
