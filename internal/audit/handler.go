package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
)

// Handler mengekspos timeline audit sebagai JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler membuat handler timeline audit.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes mendaftarkan route audit. Guard akses dipasang oleh router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:    strings.TrimSpace(q.Get("actor")),
		Event:    strings.TrimSpace(q.Get("event")),
		Category: strings.TrimSpace(q.Get("category")),
	}
	var err error
	if raw := q.Get("from"); raw != "" {
		if filters.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return TimelineFilters{}, err
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filters.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return TimelineFilters{}, err
		}
	}
	if raw := q.Get("page"); raw != "" {
		if filters.Page, err = strconv.Atoi(raw); err != nil {
			return TimelineFilters{}, err
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if filters.PageSize, err = strconv.Atoi(raw); err != nil {
			return TimelineFilters{}, err
		}
	}
	return filters, nil
}
