package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/identity"
	"github.com/patternos/patternos-backend/internal/engine/query"
)

type CustomerHandler struct {
	queries  *query.Service
	resolver identity.Resolver
}

func NewCustomerHandler(queries *query.Service, resolver identity.Resolver) *CustomerHandler {
	return &CustomerHandler{queries: queries, resolver: resolver}
}

func customerIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.Validationf("invalid_customer_id", "customer id must be a uuid")
	}
	return id, nil
}

func (ch *CustomerHandler) Get(c *gin.Context) {
	id, err := customerIDParam(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	view, err := ch.queries.Customer(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, view)
}

// GetScore serves the latest intent score for ?category=.
func (ch *CustomerHandler) GetScore(c *gin.Context) {
	id, err := customerIDParam(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	score, err := ch.queries.Score(c.Request.Context(), id, c.Query("category"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, score)
}

func (ch *CustomerHandler) GetWindows(c *gin.Context) {
	id, err := customerIDParam(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	windows, err := ch.queries.Windows(c.Request.Context(), id, c.Query("category"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, windows)
}

func (ch *CustomerHandler) GetJourney(c *gin.Context) {
	id, err := customerIDParam(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	view, err := ch.queries.Journey(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, view)
}

type mergeRequest struct {
	WinnerID uuid.UUID `json:"winner_id"`
	LoserID  uuid.UUID `json:"loser_id"`
	Note     string    `json:"note"`
}

// Merge is the admin identity-merge endpoint.
func (ch *CustomerHandler) Merge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validationf("malformed_payload", "invalid merge payload: %v", err))
		return
	}
	if err := ch.resolver.Merge(c.Request.Context(), req.WinnerID, req.LoserID, req.Note); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": true, "winner_id": req.WinnerID, "loser_id": req.LoserID})
}
