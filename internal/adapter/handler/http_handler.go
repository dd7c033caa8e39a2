package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/service"
	"github.com/rl1809/pos-checkout/internal/metrics"
)

const (
	maxBodyBytes = 1 << 20

	headerIdempotencyKey    = "Idempotency-Key"
	headerIdempotencyReplay = "Idempotent-Replay"
)

type HTTPHandler struct {
	catalog  *service.CatalogService
	carts    *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
	metrics  *metrics.Metrics
	log      *slog.Logger
}

type AddCartLineHTTPRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note"`
}

type CheckoutResponse struct {
	OrderID string             `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
	Total   decimal.Decimal    `json:"total"`
}

func NewHTTPHandler(
	catalog *service.CatalogService,
	carts *service.CartService,
	checkout *service.CheckoutService,
	orders *service.OrderService,
	m *metrics.Metrics,
	log *slog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		catalog:  catalog,
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		metrics:  m,
		log:      log.With("component", "http"),
	}
}

// Router mounts every route. metricsHandler serves /metrics and may be nil.
// allowedOrigins are the browser origins answered by CORS, "*" for any.
func (h *HTTPHandler) Router(metricsHandler http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// preflights are answered here, before a route or method is matched
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerIdempotencyKey, middleware.RequestIDHeader},
		ExposedHeaders: []string{headerIdempotencyReplay},
		MaxAge:         300,
	}))
	r.Use(AccessLog(h.log, h.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Get("/products", h.ListProducts)
	r.Post("/products", h.CreateProduct)
	r.Get("/best-products", h.ListFeaturedProducts)
	r.Route("/products/{id}", func(r chi.Router) {
		r.Get("/", h.GetProduct)
		r.Put("/", h.UpdateProduct)
		r.Delete("/", h.DeleteProduct)
	})

	r.Get("/cart-lines", h.ListCartLines)
	r.Post("/cart-lines", h.AddCartLine)
	r.Delete("/cart-lines/{id}", h.RemoveCartLine)

	r.Post("/checkout", h.Checkout)

	r.Route("/admin/orders", func(r chi.Router) {
		r.Get("/", h.ListPendingOrders)
		r.Get("/{id}", h.GetOrder)
		r.Get("/{id}/lines", h.GetOrderLines)
		r.Delete("/{id}", h.CompleteOrder)
		r.Post("/{id}/complete", h.CompleteOrder)
		r.Post("/{id}/purge", h.PurgeOrder)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, h.log, fmt.Errorf("%w: no route for %s %s", domain.ErrNotFound, r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, POST, PUT, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: errorBody{
			Kind: domain.KindInvalidRequest, Message: "method not allowed",
		}})
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	h.listProducts(w, r, r.URL.Query().Get("featured") == "true")
}

func (h *HTTPHandler) ListFeaturedProducts(w http.ResponseWriter, r *http.Request) {
	h.listProducts(w, r, true)
}

func (h *HTTPHandler) listProducts(w http.ResponseWriter, r *http.Request, featuredOnly bool) {
	products, err := h.catalog.List(r.Context(), featuredOnly)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in domain.ProductInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.catalog.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in domain.ProductInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.catalog.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListCartLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.carts.ListLines(r.Context(), h.checkout.DefaultCartID())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if lines == nil {
		lines = []domain.CartLineView{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *HTTPHandler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	var req AddCartLineHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.carts.AddLine(r.Context(), h.checkout.DefaultCartID(), req.ProductID, req.Quantity, req.Note)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (h *HTTPHandler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.RemoveLine(r.Context(), h.checkout.DefaultCartID(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.CartID = h.checkout.DefaultCartID()

	res, replayed, err := h.checkout.CheckoutOnce(r.Context(), r.Header.Get(headerIdempotencyKey), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if replayed {
		w.Header().Set(headerIdempotencyReplay, "true")
	}
	writeJSON(w, http.StatusCreated, CheckoutResponse{
		OrderID: res.Order.ID,
		Status:  res.Order.Status,
		Total:   res.Total,
	})
}

func (h *HTTPHandler) ListPendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListPending(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) GetOrderLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.orders.GetLineItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if lines == nil {
		lines = []domain.OrderLine{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *HTTPHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) PurgeOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a single JSON document into v. On failure it has already
// answered the request.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	err := dec.Decode(v)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON body")
	}
	if err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeError(w, r, h.log, fmt.Errorf("%w: %s", domain.ErrInvalidRequest, msg))
		return false
	}
	return true
}
