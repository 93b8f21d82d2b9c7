package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/ingest"
)

type EventHandler struct {
	pipeline ingest.Pipeline
}

func NewEventHandler(pipeline ingest.Pipeline) *EventHandler {
	return &EventHandler{pipeline: pipeline}
}

// Submit accepts one raw event. Accepted and parked submissions both return
// 202; duplicates and shed events return 200 with the outcome so edge clients
// do not retry them.
func (eh *EventHandler) Submit(c *gin.Context) {
	var in ingest.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, apierr.Validationf("malformed_payload", "invalid event payload: %v", err))
		return
	}
	result, err := eh.pipeline.Submit(c.Request.Context(), &in)
	if err != nil {
		RespondError(c, err)
		return
	}
	switch result.Outcome {
	case ingest.OutcomeAccepted, ingest.OutcomeParked:
		c.JSON(http.StatusAccepted, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}
