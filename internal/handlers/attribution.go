package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/attribution"
	"github.com/patternos/patternos-backend/internal/engine/query"
	"github.com/patternos/patternos-backend/internal/types"
)

type AttributionHandler struct {
	attributions attribution.Engine
	queries      *query.Service
}

func NewAttributionHandler(attributions attribution.Engine, queries *query.Service) *AttributionHandler {
	return &AttributionHandler{attributions: attributions, queries: queries}
}

type touchpointRequest struct {
	GlobalCustomerID uuid.UUID `json:"global_customer_id"`
	CampaignID       uuid.UUID `json:"campaign_id"`
	AdID             string    `json:"ad_id"`
	Kind             string    `json:"kind"`
	Channel          string    `json:"channel"`
	Platform         string    `json:"platform"`
	PageType         string    `json:"page_type"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (ah *AttributionHandler) RecordTouchpoint(c *gin.Context) {
	var req touchpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validationf("malformed_payload", "invalid touchpoint payload: %v", err))
		return
	}
	tp := &types.Touchpoint{
		GlobalCustomerID: req.GlobalCustomerID,
		CampaignID:       req.CampaignID,
		Kind:             req.Kind,
		Channel:          req.Channel,
		Platform:         req.Platform,
		PageType:         req.PageType,
		OccurredAt:       req.OccurredAt,
	}
	if req.AdID != "" {
		adID := req.AdID
		tp.AdID = &adID
	}
	if err := ah.attributions.RecordTouchpoint(c.Request.Context(), tp); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tp)
}

type conversionRequest struct {
	GlobalCustomerID uuid.UUID                `json:"global_customer_id"`
	OrderID          string                   `json:"order_id"`
	Revenue          float64                  `json:"revenue"`
	Items            []map[string]interface{} `json:"items"`
	OccurredAt       time.Time                `json:"occurred_at"`
	Model            string                   `json:"model"`
	LookbackDays     int                      `json:"lookback_days"`
}

func (ah *AttributionHandler) RecordConversion(c *gin.Context) {
	var req conversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validationf("malformed_payload", "invalid conversion payload: %v", err))
		return
	}
	conv, err := ah.attributions.RecordConversion(c.Request.Context(), attribution.ConversionInput{
		GlobalCustomerID: req.GlobalCustomerID,
		OrderID:          req.OrderID,
		Revenue:          req.Revenue,
		Items:            req.Items,
		OccurredAt:       req.OccurredAt,
		Model:            req.Model,
		LookbackDays:     req.LookbackDays,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	status := http.StatusCreated
	if conv.Revision > 0 {
		status = http.StatusOK
	}
	c.JSON(status, conv)
}

func (ah *AttributionHandler) GetAttribution(c *gin.Context) {
	view, err := ah.queries.Attribution(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, view)
}

// CampaignROAS serves GET /api/campaigns/:id/roas?model=&from=&to=.
func (ah *AttributionHandler) CampaignROAS(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validationf("invalid_campaign_id", "campaign id must be a uuid"))
		return
	}
	from, to, err := parsePeriod(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	report, err := ah.attributions.ROAS(c.Request.Context(), campaignID, c.Query("model"), from, to)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, report)
}

// parsePeriod reads from/to query params as RFC3339, defaulting to the last 30
// days.
func parsePeriod(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, apierr.Validationf("invalid_period", "from must be RFC3339: %v", err)
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, apierr.Validationf("invalid_period", "to must be RFC3339: %v", err)
		}
		to = t
	}
	if !to.After(from) {
		return from, to, apierr.Validationf("invalid_period", "to must be after from")
	}
	return from, to, nil
}
