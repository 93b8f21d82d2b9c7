package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/campaigns"
	"github.com/patternos/patternos-backend/internal/types"
)

type CampaignHandler struct {
	service campaigns.Service
}

func NewCampaignHandler(service campaigns.Service) *CampaignHandler {
	return &CampaignHandler{service: service}
}

func (ch *CampaignHandler) Register(c *gin.Context) {
	var campaign types.Campaign
	if err := c.ShouldBindJSON(&campaign); err != nil {
		RespondError(c, apierr.Validationf("malformed_payload", "invalid campaign payload: %v", err))
		return
	}
	if err := ch.service.Register(c.Request.Context(), &campaign); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (ch *CampaignHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validationf("invalid_campaign_id", "campaign id must be a uuid"))
		return
	}
	campaign, err := ch.service.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, campaign)
}

func (ch *CampaignHandler) List(c *gin.Context) {
	if brand := c.Query("brand"); brand != "" {
		list, err := ch.service.ListByBrand(c.Request.Context(), brand)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, list)
		return
	}
	list, err := ch.service.List(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, list)
}

type spendRequest struct {
	Amount     float64   `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (ch *CampaignHandler) Spend(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validationf("invalid_campaign_id", "campaign id must be a uuid"))
		return
	}
	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validationf("malformed_payload", "invalid spend payload: %v", err))
		return
	}
	if err := ch.service.Spend(c.Request.Context(), id, req.Amount, req.OccurredAt); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "amount": req.Amount})
}
