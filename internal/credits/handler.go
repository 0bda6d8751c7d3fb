package credits

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/asgl-platform/docchat/internal/platform/httpx"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Handler exposes credit balance and administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	audit     *shared.AuditLogger
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, rbac: mw, validator: validator.New()}
}

// MountRoutes registers credit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.balance)
	r.Get("/usage", h.usageHistory)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCreditsView))
		r.Get("/", h.listCredits)
		r.Get("/users/{userID}/usage", h.userUsage)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCreditsEdit))
		r.Put("/users/{userID}", h.overwrite)
		r.Post("/users/{userID}/bonus", h.addBonus)
	})
}

type creditResponse struct {
	UserID           int64 `json:"user_id"`
	Month            int   `json:"month"`
	Year             int   `json:"year"`
	TotalCredits     int64 `json:"total_credits"`
	UsedCredits      int64 `json:"used_credits"`
	RemainingCredits int64 `json:"remaining_credits"`
}

func toCreditResponse(c Credit) creditResponse {
	return creditResponse{
		UserID:           c.UserID,
		Month:            c.Month,
		Year:             c.Year,
		TotalCredits:     c.TotalCredits,
		UsedCredits:      c.UsedCredits,
		RemainingCredits: c.RemainingCredits,
	}
}

type usageResponse struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Amount    int64          `json:"amount"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func toUsageResponse(u CreditUsage) usageResponse {
	return usageResponse{
		ID:        u.ID,
		UserID:    u.UserID,
		Amount:    u.Amount,
		Action:    u.Action,
		Metadata:  u.Metadata,
		CreatedAt: u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	credit, err := h.service.Balance(r.Context(), p.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCreditResponse(credit))
}

func (h *Handler) usageHistory(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	h.respondUsage(w, r, p.ID)
}

func (h *Handler) userUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondUsage(w, r, userID)
}

func (h *Handler) respondUsage(w http.ResponseWriter, r *http.Request, userID int64) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	items, pagination, err := h.service.UsageHistory(r.Context(), userID, page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]usageResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toUsageResponse(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      out,
		"pagination": pagination,
	})
}

func (h *Handler) listCredits(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	period, err := periodFromQuery(r, h.service.currentPeriod())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListCredits(r.Context(), p, period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]creditResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCreditResponse(row))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type overwritePayload struct {
	Month        int   `json:"month" validate:"required,min=1,max=12"`
	Year         int   `json:"year" validate:"required,min=2000,max=9999"`
	TotalCredits int64 `json:"total_credits" validate:"min=0"`
	UsedCredits  int64 `json:"used_credits" validate:"min=0"`
}

func (h *Handler) overwrite(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	userID, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload overwritePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	period := Period{Month: payload.Month, Year: payload.Year}
	credit, err := h.service.UpdateCredit(r.Context(), p, userID, period, payload.TotalCredits, payload.UsedCredits)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, p, "credit.overwrite", userID, map[string]any{
		"month": payload.Month,
		"year":  payload.Year,
		"total": payload.TotalCredits,
		"used":  payload.UsedCredits,
	})
	httpx.JSON(w, http.StatusOK, toCreditResponse(credit))
}

type bonusPayload struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) addBonus(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	userID, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload bonusPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	credit, err := h.service.AddBonusCredit(r.Context(), userID, payload.Amount, payload.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, p, "credit.bonus", userID, map[string]any{
		"amount": payload.Amount,
		"reason": payload.Reason,
	})
	httpx.JSON(w, http.StatusOK, toCreditResponse(credit))
}

func (h *Handler) recordAudit(r *http.Request, p *rbac.Principal, action string, userID int64, meta map[string]any) {
	if h.audit == nil || p == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  p.ID,
		Action:   action,
		Entity:   "credit",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	}
	if err := h.audit.Record(r.Context(), log); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

func pathUserID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", shared.ErrInvalidInput, raw)
	}
	return id, nil
}

func periodFromQuery(r *http.Request, fallback Period) (Period, error) {
	q := r.URL.Query()
	if q.Get("month") == "" && q.Get("year") == "" {
		return fallback, nil
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		return Period{}, fmt.Errorf("%w: invalid month", shared.ErrInvalidInput)
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		return Period{}, fmt.Errorf("%w: invalid year", shared.ErrInvalidInput)
	}
	period := Period{Month: month, Year: year}
	if err := period.Validate(); err != nil {
		return Period{}, err
	}
	return period, nil
}
