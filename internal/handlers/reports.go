package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/patternos/patternos-backend/internal/engine/aggregate"
)

type ReportHandler struct {
	aggregates *aggregate.Service
}

func NewReportHandler(aggregates *aggregate.Service) *ReportHandler {
	return &ReportHandler{aggregates: aggregates}
}

func (rh *ReportHandler) BrandPerformance(c *gin.Context) {
	from, to, err := parsePeriod(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	reports, err := rh.aggregates.BrandPerformance(c.Request.Context(), from, to)
	if err != nil {
		RespondError(c, err)
		return
	}
	if limit := parseLimit(c); limit > 0 && limit < len(reports) {
		reports = reports[:limit]
	}
	RespondOK(c, gin.H{"from": from, "to": to, "brands": reports})
}

// parseLimit reads the optional ?limit= query parameter; 0 means no limit.
func parseLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// parseThreshold reads the optional ?threshold= query parameter; 0 means use
// the configured default.
func parseThreshold(c *gin.Context) float64 {
	raw := c.Query("threshold")
	if raw == "" {
		return 0
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil || threshold < 0 {
		return 0
	}
	return threshold
}

func (rh *ReportHandler) IntentStats(c *gin.Context) {
	stats, err := rh.aggregates.IntentOverview(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, stats)
}

func (rh *ReportHandler) PlatformRevenue(c *gin.Context) {
	from, to, err := parsePeriod(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	report, err := rh.aggregates.PlatformRevenue(c.Request.Context(), from, to)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, report)
}

func (rh *ReportHandler) RevenueOpportunities(c *gin.Context) {
	opportunities, err := rh.aggregates.RevenueOpportunities(c.Request.Context(), parseThreshold(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	if limit := parseLimit(c); limit > 0 && limit < len(opportunities) {
		opportunities = opportunities[:limit]
	}
	RespondOK(c, gin.H{"opportunities": opportunities})
}
