package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cleanease/api/internal/platform/auth"
	"github.com/cleanease/api/internal/platform/httpx"
	"github.com/cleanease/api/internal/services"
)

const (
	defaultServicePageSize = 50
	maxServicePageSize     = 100
)

// CatalogHandlers exposes read endpoints for the orderable service catalog.
type CatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogLookupService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogLookupService) *CatalogHandlers {
	return &CatalogHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the /services endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listServices)
	r.Get("/{serviceID}", h.getService)
}

func (h *CatalogHandlers) listServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, ok := parsePageSize(ctx, w, query.Get("page_size"), defaultServicePageSize, maxServicePageSize)
	if !ok {
		return
	}

	onlyActive := true
	if raw := strings.TrimSpace(query.Get("include_inactive")); raw != "" {
		if actor, hasActor := requestActor(ctx); hasActor && actor.IsStaff() && strings.EqualFold(raw, "true") {
			onlyActive = false
		}
	}

	filter := services.CatalogListFilter{
		Category:   strings.ToLower(strings.TrimSpace(query.Get("category"))),
		OnlyActive: onlyActive,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.catalog.ListServices(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]catalogServicePayload, 0, len(page.Items))
	for _, svc := range page.Items {
		items = append(items, buildCatalogServicePayload(svc))
	}
	writeJSONResponse(w, http.StatusOK, catalogListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CatalogHandlers) getService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	serviceID := strings.TrimSpace(chi.URLParam(r, "serviceID"))
	if serviceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "service id is required", http.StatusBadRequest))
		return
	}

	svc, err := h.catalog.Resolve(ctx, serviceID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, catalogServiceResponse{Service: buildCatalogServicePayload(svc)})
}

type catalogListResponse struct {
	Items         []catalogServicePayload `json:"items"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

type catalogServiceResponse struct {
	Service catalogServicePayload `json:"service"`
}

type catalogServicePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	UnitPrice   int64  `json:"unit_price"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildCatalogServicePayload(svc services.CatalogService) catalogServicePayload {
	return catalogServicePayload{
		ID:          strings.TrimSpace(svc.ID),
		Name:        strings.TrimSpace(svc.Name),
		Description: strings.TrimSpace(svc.Description),
		Category:    strings.TrimSpace(svc.Category),
		UnitPrice:   svc.UnitPrice,
		Active:      svc.Active,
		CreatedAt:   formatTime(svc.CreatedAt),
		UpdatedAt:   formatTime(svc.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_not_found", "service not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to manage the catalog", http.StatusForbidden))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
