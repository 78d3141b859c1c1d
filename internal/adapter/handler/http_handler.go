package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/platform/httpx"
	"github.com/rl1809/storefront-orders/internal/platform/observability"
)

const (
	HeaderCustomerID = "X-Customer-ID"
	HeaderStaffID    = "X-Staff-ID"

	maxBodyBytes         = 1 << 20
	defaultMovementLimit = 50
)

type HTTPHandlerDeps struct {
	Orders    *service.OrderService
	Inventory *service.InventoryService
	// Webhook receives payment provider callbacks; nil leaves the route unmounted.
	Webhook http.Handler
	Logger  *zap.Logger
}

type HTTPHandler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	webhook   http.Handler
	logger    *zap.Logger
}

func NewHTTPHandler(deps HTTPHandlerDeps) *HTTPHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		webhook:   deps.Webhook,
		logger:    logger,
	}
}

// Routes builds the router with request id, tracing, logging and panic
// recovery applied to every route.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.TraceMiddleware)
	r.Use(observability.RequestLoggerMiddleware(h.logger))
	r.Use(observability.RecoveryMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Post("/manual-orders", h.CreateManualOrder)

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/fulfillment", h.AdvanceFulfillment)
			r.Post("/cancel", h.CancelOrder)
			r.Post("/payment", h.RecordPayment)
			r.Post("/payment-intent", h.StartPayment)
		})

		r.Get("/products/low-stock", h.ListLowStock)
		r.Route("/products/{productID}", func(r chi.Router) {
			r.Get("/", h.GetProduct)
			r.Post("/adjust", h.AdjustStock)
			r.Put("/stock", h.SetStock)
			r.Get("/movements", h.ListMovements)
		})

		if h.webhook != nil {
			r.Method(http.MethodPost, "/payments/stripe/webhook", h.webhook)
		}
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actor.Kind != domain.ActorCustomer {
		h.fail(w, r, fmt.Errorf("%w: checkout requires %s", errUnauthenticated, HeaderCustomerID))
		return
	}

	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	declared, err := parseDeclaredTotal(req.DeclaredTotal)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: declared_total is not a number", service.ErrInvalidRequest))
		return
	}

	view, err := h.orders.Checkout(r.Context(), service.OnlineCheckoutRequest{
		CustomerID:    actor.ID,
		AddressID:     req.AddressID,
		Items:         toItems(req.Items),
		DeclaredTotal: declared,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toOrderResponse(view))
}

func (h *HTTPHandler) CreateManualOrder(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}

	var req ManualOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.StaffID = staffID

	view, err := h.orders.CreateManualOrder(r.Context(), req.toService())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toOrderResponse(view))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !canView(actor, view) {
		h.fail(w, r, fmt.Errorf("%w: %s", service.ErrOrderNotFound, view.ID))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *HTTPHandler) AdvanceFulfillment(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}

	var req AdvanceFulfillmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.orders.AdvanceFulfillment(r.Context(), service.AdvanceFulfillmentCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Target:  domain.FulfillmentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Actor:   domain.Actor{Kind: domain.ActorStaff, ID: staffID},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req CancelOrderRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	view, err := h.orders.CancelOrder(r.Context(), service.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actor,
		Restock: req.Restock,
		Reason:  req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *HTTPHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}

	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.orders.RecordPayment(r.Context(), service.RecordPaymentCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		Status:    domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Reference: req.Reference,
		Actor:     domain.Actor{Kind: domain.ActorStaff, ID: staffID},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *HTTPHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	view, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !canView(actor, view) {
		h.fail(w, r, fmt.Errorf("%w: %s", service.ErrOrderNotFound, orderID))
		return
	}

	intent, err := h.orders.StartPayment(r.Context(), view.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, PaymentIntentResponse{
		OrderID:      view.ID,
		Reference:    intent.Reference,
		ClientSecret: intent.ClientSecret,
	})
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.inventory.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}

	var req AdjustStockRequest
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.inventory.AdjustStock(r.Context(), service.AdjustStockCommand{
		ProductID: chi.URLParam(r, "productID"),
		Delta:     req.Delta,
		Reason:    req.Reason,
		ActorID:   staffID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *HTTPHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}

	var req SetStockRequest
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.inventory.SetStock(r.Context(), service.SetStockCommand{
		ProductID:       chi.URLParam(r, "productID"),
		Quantity:        req.Quantity,
		ExpectedVersion: req.ExpectedVersion,
		Reason:          req.Reason,
		ActorID:         staffID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *HTTPHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireStaff(w, r); !ok {
		return
	}

	products, err := h.inventory.ListLowStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]*ProductResponse, 0, len(products))
	for i := range products {
		out = append(out, toProductResponse(&products[i]))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": out})
}

func (h *HTTPHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireStaff(w, r); !ok {
		return
	}

	limit := defaultMovementLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, fmt.Errorf("%w: limit must be a positive integer", service.ErrInvalidRequest))
			return
		}
		limit = n
	}

	movements, err := h.inventory.ListMovements(r.Context(), chi.URLParam(r, "productID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"movements": toMovementResponses(movements)})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.fail(w, r, fmt.Errorf("%w: invalid request body", service.ErrInvalidRequest))
		return false
	}
	return true
}

func (h *HTTPHandler) requireStaff(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderStaffID))
	if id == "" {
		h.fail(w, r, fmt.Errorf("%w: %s header is required", errUnauthenticated, HeaderStaffID))
		return "", false
	}
	return id, true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	herr := toHTTPError(err)
	if herr.Status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	httpx.WriteError(r.Context(), w, herr)
}

// actorFrom resolves the caller from identity headers set by the upstream
// auth layer. Staff wins when both are present.
func actorFrom(r *http.Request) (domain.Actor, error) {
	if id := strings.TrimSpace(r.Header.Get(HeaderStaffID)); id != "" {
		return domain.Actor{Kind: domain.ActorStaff, ID: id}, nil
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderCustomerID)); id != "" {
		return domain.Actor{Kind: domain.ActorCustomer, ID: id}, nil
	}
	return domain.Actor{}, fmt.Errorf("%w: %s or %s header is required", errUnauthenticated, HeaderCustomerID, HeaderStaffID)
}

// canView hides other customers' orders behind a not-found.
func canView(actor domain.Actor, view *domain.OrderView) bool {
	return actor.Kind == domain.ActorStaff || (view.CustomerID != "" && view.CustomerID == actor.ID)
}
