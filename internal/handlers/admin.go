package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cleanease/api/internal/platform/auth"
	"github.com/cleanease/api/internal/platform/httpx"
	"github.com/cleanease/api/internal/services"
)

type upsertServiceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	UnitPrice   int64  `json:"unit_price"`
	Active      *bool  `json:"active"`
}

// AdminHandlers exposes staff-facing catalog management and order oversight.
type AdminHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogLookupService
	orders  services.OrderService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, catalog services.CatalogLookupService, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{
		authn:   authn,
		catalog: catalog,
		orders:  orders,
	}
}

// Routes registers the /admin endpoints. Catalog mutations additionally
// require the admin role, enforced by the catalog service.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/services", h.createService)
	r.Patch("/services/{serviceID}", h.updateService)
	r.Get("/orders", h.listOrders)
}

func (h *AdminHandlers) createService(w http.ResponseWriter, r *http.Request) {
	h.saveService(w, r, "")
}

func (h *AdminHandlers) updateService(w http.ResponseWriter, r *http.Request) {
	h.saveService(w, r, strings.TrimSpace(chi.URLParam(r, "serviceID")))
}

func (h *AdminHandlers) saveService(w http.ResponseWriter, r *http.Request, serviceID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requestActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req upsertServiceRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.UpsertCatalogServiceCommand{
		Actor:       actor,
		ServiceID:   serviceID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		UnitPrice:   req.UnitPrice,
		Active:      req.Active,
	}

	var (
		saved services.CatalogService
		err   error
	)
	if serviceID == "" {
		saved, err = h.catalog.CreateService(ctx, cmd)
	} else {
		saved, err = h.catalog.UpdateService(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if serviceID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, catalogServiceResponse{Service: buildCatalogServicePayload(saved)})
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requestActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	filter, ok := parseOrderListFilter(ctx, w, r, actor)
	if !ok {
		return
	}

	page, err := h.orders.ListOrders(ctx, actor, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}
