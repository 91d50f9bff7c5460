package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
	"github.com/your-org/fpv/internal/storage"
	"github.com/your-org/fpv/pkg/dto"
)

type EventStore interface {
	QueryVerificationEvents(ctx context.Context, f storage.EventFilter, limit, offset int) ([]models.VerificationEvent, int, error)
	GetVerificationEvent(ctx context.Context, id uuid.UUID) (*models.VerificationEvent, error)
}

type EventHandler struct {
	db EventStore
}

func NewEventHandler(db EventStore) *EventHandler {
	return &EventHandler{db: db}
}

func (h *EventHandler) List(c *gin.Context) {
	f := storage.EventFilter{
		Backend: c.Query("backend"),
		Outcome: c.Query("outcome"),
		Type:    models.EventType(c.Query("type")),
	}
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			f.From = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			f.To = &t
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.db.QueryVerificationEvents(c.Request.Context(), f, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toEventResponse(ev))
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: total})
}

func (h *EventHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errs.New(errs.KindInvalidFilter, "invalid event id"))
		return
	}

	ev, err := h.db.GetVerificationEvent(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeEnvelope(c, http.StatusNotFound, "not_found", "event not found")
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEventResponse(*ev))
}

func toEventResponse(ev models.VerificationEvent) dto.EventResponse {
	return dto.EventResponse{
		ID:          ev.ID,
		Type:        string(ev.Type),
		Backend:     ev.Backend,
		Position:    ev.Position,
		SampleKind:  ev.SampleKind,
		Outcome:     ev.Outcome,
		CandidateID: ev.CandidateID,
		Score:       ev.Score,
		ProbeHash:   ev.ProbeHash,
		SeenCount:   ev.SeenCount,
		Timestamp:   ev.Timestamp.Format(time.RFC3339),
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339),
	}
}
