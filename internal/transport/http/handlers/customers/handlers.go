package customershandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/domain/customers"
	"prospectcrm/internal/transport/http/api"
	"prospectcrm/internal/transport/http/middleware"
	"prospectcrm/internal/transport/http/shared"
)

type Handler struct {
	Service *customers.Service
	Perms   middleware.PermissionStore
}

func NewHandler(service *customers.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermCustomersRead, h.Perms)
	write := middleware.RequirePermission(auth.PermCustomersWrite, h.Perms)

	r.With(write).Post("/customers", h.handleCreate)
	r.With(read).Get("/customers", h.handleList)
	r.With(read).Get("/customers/sales-history", h.handleSalesHistory)
	r.With(read).Get("/customers/available-for-prospect", h.handleAvailable)
	r.With(read).Get("/customers/{customerID}", h.handleGet)
	r.With(read).Get("/customers/{customerID}/products", h.handleListProducts)
	r.With(write).Post("/customers/{customerID}/products", h.handleAttachProduct)
	r.With(write).Delete("/customers/{customerID}/products/{productID}", h.handleDetachProduct)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	var payload customers.CreateInput
	if !shared.DecodeAndValidate(w, r, &payload, reqID) {
		return
	}
	created, err := h.Service.Create(r.Context(), actor, payload)
	if err != nil {
		shared.FailDomain(w, r, err, "customer_create_failed")
		return
	}
	api.Created(w, created, reqID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	page := shared.ParsePage(r, customers.DefaultPageSize, customers.MaxPageSize)
	list, total, err := h.Service.List(r.Context(), actor, customers.ListFilter{
		OwnerID: r.URL.Query().Get("ownerId"),
		Status:  r.URL.Query().Get("status"),
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
	if err != nil {
		shared.FailDomain(w, r, err, "customer_list_failed")
		return
	}
	shared.WriteList(w, r, list, total, page)
}

func (h *Handler) handleSalesHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	page := shared.ParsePage(r, customers.DefaultPageSize, customers.MaxPageSize)
	list, total, err := h.Service.SalesHistory(r.Context(), actor, r.URL.Query().Get("ownerId"), page.Limit, page.Offset)
	if err != nil {
		shared.FailDomain(w, r, err, "sales_history_failed")
		return
	}
	shared.WriteList(w, r, list, total, page)
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	page := shared.ParsePage(r, customers.DefaultPageSize, customers.MaxPageSize)
	list, total, err := h.Service.AvailableForProspect(r.Context(), actor, r.URL.Query().Get("ownerId"), page.Limit, page.Offset)
	if err != nil {
		shared.FailDomain(w, r, err, "available_customers_failed")
		return
	}
	shared.WriteList(w, r, list, total, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	c, err := h.Service.Get(r.Context(), actor, customerID)
	if err != nil {
		shared.FailDomain(w, r, err, "customer_read_failed")
		return
	}
	api.Success(w, c, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	products, err := h.Service.ListProducts(r.Context(), actor, customerID)
	if err != nil {
		shared.FailDomain(w, r, err, "customer_products_failed")
		return
	}
	api.Success(w, products, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAttachProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	var payload customers.ProductInput
	if !shared.DecodeAndValidate(w, r, &payload, reqID) {
		return
	}
	products, err := h.Service.AttachProduct(r.Context(), actor, customerID, payload)
	if err != nil {
		shared.FailDomain(w, r, err, "customer_product_attach_failed")
		return
	}
	api.Created(w, products, reqID)
}

func (h *Handler) handleDetachProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	productID, ok := shared.PathID(w, r, "productID")
	if !ok {
		return
	}
	if err := h.Service.DetachProduct(r.Context(), actor, customerID, productID); err != nil {
		shared.FailDomain(w, r, err, "customer_product_detach_failed")
		return
	}
	api.NoContent(w)
}
