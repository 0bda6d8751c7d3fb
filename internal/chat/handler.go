package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/asgl-platform/docchat/internal/platform/httpx"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Handler exposes the chat endpoint.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validator   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, validator: validator.New()}
}

// MountRoutes registers chat routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.completeTurn)
}

type turnPayload struct {
	DatasetID   int64   `json:"dataset_id" validate:"required,gt=0"`
	DocumentIDs []int64 `json:"document_ids" validate:"dive,gt=0"`
	Message     string  `json:"message" validate:"required,max=8192"`
}

func (h *Handler) completeTurn(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}

	var payload turnPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}

	// A retried request with the same key must not be charged twice.
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "chat"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, fmt.Errorf("%w: turn already processed", shared.ErrConflict))
				return
			}
			httpx.RespondError(w, err)
			return
		}
	}

	turn := TurnRequest{
		TurnID:      uuid.NewString(),
		DatasetID:   payload.DatasetID,
		DocumentIDs: payload.DocumentIDs,
		Message:     payload.Message,
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Turn-ID", turn.TurnID)

	if err := h.service.CompleteTurn(r.Context(), p, turn, w); err != nil {
		// Headers may already be on the wire once streaming started;
		// RespondError only works before the first write.
		h.logger.Warn("chat turn", slog.String("turn_id", turn.TurnID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
}
