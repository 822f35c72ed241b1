package orders_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/LiveTrack/internal/auth"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/services/orders"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type OrderService interface {
	CreateOrder(ctx context.Context, actor models.Identity, req orders.CreateOrderRequest) (*models.Order, error)
	AssignCourier(ctx context.Context, actor models.Identity, orderID, courierID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, actor models.Identity, orderID string, status models.OrderStatus) (*models.Order, error)
	UpdateLocation(ctx context.Context, actor models.Identity, orderID string, loc models.Location) (*models.Order, error)
	GenerateTrackingLink(ctx context.Context, actor models.Identity, orderID string) (*orders.TrackingLink, error)
	GetOrder(ctx context.Context, actor models.Identity, orderID string) (*models.Order, error)
	CurrentLocation(ctx context.Context, actor models.Identity, orderID string) (*models.Location, error)
	LocationHistory(ctx context.Context, actor models.Identity, orderID string) ([]models.Location, error)
}

type TrackingGateway interface {
	Track(ctx context.Context, orderNumber, token, clientKey string) (*models.TrackingView, error)
}

type OrdersAPI struct {
	svc      OrderService
	tracking TrackingGateway
	verifier *auth.Verifier
}

func New(svc OrderService, tracking TrackingGateway, verifier *auth.Verifier) *OrdersAPI {
	return &OrdersAPI{svc: svc, tracking: tracking, verifier: verifier}
}

// Routes mounts the REST API under /api.
func (a *OrdersAPI) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/tracking/{orderNumber}/{trackingToken}", a.track)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(a.verifier))

			r.Post("/orders", a.createOrder)
			r.Get("/orders/{id}", a.getOrder)
			r.Put("/orders/{id}/assign", a.assignCourier)
			r.Put("/orders/{id}/status", a.updateStatus)
			r.Post("/orders/{id}/tracking-link", a.trackingLink)
			r.Get("/orders/{id}/location/current", a.currentLocation)
			r.Get("/orders/{id}/location/history", a.locationHistory)

			r.Post("/location/{id}", a.updateLocation)
			r.Get("/location/{id}/current", a.currentLocation)
			r.Get("/location/{id}/history", a.locationHistory)
		})
	})
}

type createOrderBody struct {
	OrderNumber      string             `json:"orderNumber"`
	CustomerID       string             `json:"customerId"`
	Items            []models.OrderItem `json:"items"`
	TotalAmount      float64            `json:"totalAmount"`
	Notes            string             `json:"notes"`
	PickupLocation   *models.Location   `json:"pickupLocation"`
	DeliveryLocation *models.Location   `json:"deliveryLocation"`
}

func (a *OrdersAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var b createOrderBody
	if !decode(w, r, &b) {
		return
	}
	if b.PickupLocation == nil || b.DeliveryLocation == nil {
		writeError(w, r, errors.Wrap(models.ErrInvalidInput, "pickupLocation and deliveryLocation are required"))
		return
	}
	o, err := a.svc.CreateOrder(r.Context(), identity(r), orders.CreateOrderRequest{
		OrderNumber:      b.OrderNumber,
		CustomerID:       b.CustomerID,
		Items:            b.Items,
		TotalAmount:      b.TotalAmount,
		Notes:            b.Notes,
		PickupLocation:   *b.PickupLocation,
		DeliveryLocation: *b.DeliveryLocation,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toOrderDTO(o))
}

func (a *OrdersAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.GetOrder(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toOrderDTO(o))
}

type assignBody struct {
	DeliveryPartnerID string `json:"deliveryPartnerId"`
}

func (a *OrdersAPI) assignCourier(w http.ResponseWriter, r *http.Request) {
	var b assignBody
	if !decode(w, r, &b) {
		return
	}
	o, err := a.svc.AssignCourier(r.Context(), identity(r), chi.URLParam(r, "id"), b.DeliveryPartnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toOrderDTO(o))
}

type statusBody struct {
	Status models.OrderStatus `json:"status"`
}

func (a *OrdersAPI) updateStatus(w http.ResponseWriter, r *http.Request) {
	var b statusBody
	if !decode(w, r, &b) {
		return
	}
	o, err := a.svc.UpdateStatus(r.Context(), identity(r), chi.URLParam(r, "id"), b.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toOrderDTO(o))
}

func (a *OrdersAPI) trackingLink(w http.ResponseWriter, r *http.Request) {
	link, err := a.svc.GenerateTrackingLink(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, link)
}

type locationBody struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Address   string     `json:"address"`
	Timestamp *time.Time `json:"timestamp"`
}

func (a *OrdersAPI) updateLocation(w http.ResponseWriter, r *http.Request) {
	var b locationBody
	if !decode(w, r, &b) {
		return
	}
	if b.Latitude == nil || b.Longitude == nil {
		writeError(w, r, errors.Wrap(models.ErrInvalidInput, "latitude and longitude are required"))
		return
	}
	loc := models.Location{Latitude: *b.Latitude, Longitude: *b.Longitude, Address: b.Address}
	if b.Timestamp != nil {
		loc.Timestamp = b.Timestamp.UTC()
	}
	o, err := a.svc.UpdateLocation(r.Context(), identity(r), chi.URLParam(r, "id"), loc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"orderId":         o.ID,
		"currentLocation": o.CurrentLocation,
	})
}

func (a *OrdersAPI) currentLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := a.svc.CurrentLocation(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loc)
}

func (a *OrdersAPI) locationHistory(w http.ResponseWriter, r *http.Request) {
	locs, err := a.svc.LocationHistory(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, locs)
}

func (a *OrdersAPI) track(w http.ResponseWriter, r *http.Request) {
	v, err := a.tracking.Track(r.Context(),
		chi.URLParam(r, "orderNumber"),
		chi.URLParam(r, "trackingToken"),
		ClientKey(r),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func identity(r *http.Request) models.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// ClientKey identifies an anonymous caller for throttling by the peer
// address of the connection. X-Forwarded-For and X-Real-IP are ignored.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, r, errors.Wrap(models.ErrInvalidInput, "malformed json body"))
		return false
	}
	return true
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	_, hasIdentity := auth.FromContext(r.Context())
	code, msg := StatusOf(err, hasIdentity)
	if code >= 500 {
		slog.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusOf maps the error taxonomy onto HTTP. Lookups by tracking token
// always answer with the same message whether the order exists or not.
func StatusOf(err error, hasIdentity bool) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidToken):
		return http.StatusNotFound, models.ErrInvalidToken.Error()
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, models.ErrRateLimited.Error()
	case errors.Is(err, models.ErrNotAuthorized):
		if !hasIdentity {
			return http.StatusUnauthorized, "authentication required"
		}
		return http.StatusForbidden, err.Error()
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrStaleState),
		errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}
