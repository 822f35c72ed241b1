package socket_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/LiveTrack/internal/api/orders_api"
	"github.com/BearBump/LiveTrack/internal/auth"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/realtime"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Inbound socket events.
const (
	EventJoinOrder    = "join:order"
	EventLeaveOrder   = "leave:order"
	EventLocation     = "location:update"
	EventStatusUpdate = "order:statusUpdate"
	EventAssign       = "order:assign"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 16 << 10
)

type OrderService interface {
	AssignCourier(ctx context.Context, actor models.Identity, orderID, courierID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, actor models.Identity, orderID string, status models.OrderStatus) (*models.Order, error)
	UpdateLocation(ctx context.Context, actor models.Identity, orderID string, loc models.Location) (*models.Order, error)
	GetOrder(ctx context.Context, actor models.Identity, orderID string) (*models.Order, error)
}

type PublicJoiner interface {
	JoinPublic(ctx context.Context, c *realtime.Client, orderNumber, token, clientKey string) (*realtime.Snapshot, error)
}

type SocketAPI struct {
	hub      *realtime.Hub
	svc      OrderService
	tracking PublicJoiner
	verifier *auth.Verifier
	upgrader websocket.Upgrader
}

func New(hub *realtime.Hub, svc OrderService, tracking PublicJoiner, verifier *auth.Verifier) *SocketAPI {
	return &SocketAPI{
		hub:      hub,
		svc:      svc,
		tracking: tracking,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// tracking pages are served from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (a *SocketAPI) Routes(r chi.Router) {
	r.Get("/ws", a.serveAuthenticated)
	r.Get("/ws/public", a.servePublic)
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (a *SocketAPI) serveAuthenticated(w http.ResponseWriter, r *http.Request) {
	tok := auth.TokenFromRequest(r)
	if tok == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	id, err := a.verifier.Verify(tok)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c, err := a.hub.Register(id)
	if err != nil {
		_ = conn.Close()
		return
	}
	slog.Info("socket: connected", "client", c.ID(), "user_id", id.UserID, "role", id.Role)
	a.serve(conn, c, func(ctx context.Context, in inbound) error {
		return a.handleAuthenticated(ctx, c, in)
	})
}

func (a *SocketAPI) servePublic(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := a.hub.RegisterPublic()
	clientKey := orders_api.ClientKey(r)
	a.serve(conn, c, func(ctx context.Context, in inbound) error {
		return a.handlePublic(ctx, c, clientKey, in)
	})
}

// serve pumps frames both ways until either side goes away.
func (a *SocketAPI) serve(conn *websocket.Conn, c *realtime.Client, handle func(context.Context, inbound) error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer a.hub.Unregister(c)

	go a.writePump(conn, c)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("socket: read failed", "client", c.ID(), "err", err)
			}
			return
		}
		if err := handle(ctx, in); err != nil {
			a.reply(c, in.Event, err)
		}
	}
}

func (a *SocketAPI) writePump(conn *websocket.Conn, c *realtime.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-c.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type orderRef struct {
	OrderID string `json:"orderId"`
}

type locationReq struct {
	OrderID   string   `json:"orderId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
}

type statusReq struct {
	OrderID string             `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
}

type assignReq struct {
	OrderID           string `json:"orderId"`
	DeliveryPartnerID string `json:"deliveryPartnerId"`
}

func (a *SocketAPI) handleAuthenticated(ctx context.Context, c *realtime.Client, in inbound) error {
	actor := c.Identity()
	switch in.Event {
	case EventJoinOrder:
		var req orderRef
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		o, err := a.svc.GetOrder(ctx, actor, req.OrderID)
		if err != nil {
			return err
		}
		room := realtime.OrderRoom(o.ID)
		if err := a.hub.Join(c, room); err != nil {
			return err
		}
		// snapshot is read after joining: any later write arrives as an event
		if o, err = a.svc.GetOrder(ctx, actor, o.ID); err != nil {
			a.hub.Leave(c, room)
			return err
		}
		return a.hub.Send(c, realtime.KindSnapshot, realtime.Snapshot{
			OrderNumber:     o.OrderNumber,
			Status:          o.Status,
			CurrentLocation: o.CurrentLocation,
		})

	case EventLeaveOrder:
		var req orderRef
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		a.hub.Leave(c, realtime.OrderRoom(req.OrderID))
		return nil

	case EventLocation:
		var req locationReq
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		if req.Latitude == nil || req.Longitude == nil {
			return errors.Wrap(models.ErrInvalidInput, "latitude and longitude are required")
		}
		_, err := a.svc.UpdateLocation(ctx, actor, req.OrderID, models.Location{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
			Address:   req.Address,
		})
		return err

	case EventStatusUpdate:
		var req statusReq
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		_, err := a.svc.UpdateStatus(ctx, actor, req.OrderID, req.Status)
		return err

	case EventAssign:
		var req assignReq
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		_, err := a.svc.AssignCourier(ctx, actor, req.OrderID, req.DeliveryPartnerID)
		return err
	}
	return errors.Wrapf(models.ErrInvalidInput, "unsupported event %q", in.Event)
}

type publicJoinReq struct {
	OrderNumber   string `json:"orderNumber"`
	TrackingToken string `json:"trackingToken"`
}

// Anonymous connections can only join; they never write.
func (a *SocketAPI) handlePublic(ctx context.Context, c *realtime.Client, clientKey string, in inbound) error {
	if in.Event != EventJoinOrder {
		return errors.Wrapf(models.ErrNotAuthorized, "event %q", in.Event)
	}
	var req publicJoinReq
	if err := decode(in.Data, &req); err != nil {
		return err
	}
	_, err := a.tracking.JoinPublic(ctx, c, req.OrderNumber, req.TrackingToken, clientKey)
	return err
}

func (a *SocketAPI) reply(c *realtime.Client, event string, err error) {
	_, msg := orders_api.StatusOf(err, c.Domain() == realtime.DomainAuthenticated)
	if err := a.hub.Send(c, realtime.KindError, realtime.ErrorEvent{Event: event, Message: msg}); err != nil && !errors.Is(err, realtime.ErrClientClosed) {
		slog.Warn("socket: reply failed", "client", c.ID(), "err", err)
	}
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errors.Wrap(models.ErrInvalidInput, "missing data")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(models.ErrInvalidInput, "malformed data")
	}
	return nil
}
