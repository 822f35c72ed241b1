package orders

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/realtime"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	// CompareAndSetStatus returns models.ErrStaleState when the stored status
	// or version no longer match the expectation.
	CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (*models.Order, error)
	// AppendLocation returns models.ErrStaleState when the courier is no
	// longer assigned or the order is no longer trackable.
	AppendLocation(ctx context.Context, upd models.LocationAppend) (*models.Order, error)
	IsCourierOfVendor(ctx context.Context, vendorID, courierID string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, kind realtime.Kind, target realtime.Target, payload any) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, orderNumber string) (string, error)
}

// SessionCloser ends location sharing for an order that reached a terminal
// state.
type SessionCloser interface {
	CloseOrder(orderID string)
}

type Rand interface {
	Intn(n int) int
}

// sharedRand uses the package-level source, which is safe for concurrent use.
type sharedRand struct{}

func (sharedRand) Intn(n int) int { return rand.Intn(n) }

const defaultMaxAttempts = 3

type Options struct {
	TrackingBaseURL string
	// MaxAttempts bounds re-evaluation after an optimistic concurrency
	// conflict. default: 3
	MaxAttempts int
	Now         func() time.Time
	Rand        Rand
	Sessions    SessionCloser
}

type Service struct {
	repo     Repository
	notifier Notifier
	tokens   TokenIssuer

	baseURL     string
	maxAttempts int
	now         func() time.Time
	rnd         Rand
	sessions    SessionCloser
}

func New(repo Repository, notifier Notifier, tokens TokenIssuer, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Rand == nil {
		opts.Rand = sharedRand{}
	}
	return &Service{
		repo:        repo,
		notifier:    notifier,
		tokens:      tokens,
		baseURL:     strings.TrimRight(opts.TrackingBaseURL, "/"),
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
		rnd:         opts.Rand,
		sessions:    opts.Sessions,
	}
}

type CreateOrderRequest struct {
	OrderNumber      string
	CustomerID       string
	Items            []models.OrderItem
	TotalAmount      float64
	Notes            string
	PickupLocation   models.Location
	DeliveryLocation models.Location
}

func (s *Service) CreateOrder(ctx context.Context, actor models.Identity, req CreateOrderRequest) (*models.Order, error) {
	if actor.Role != models.RoleVendor || actor.UserID == "" {
		return nil, s.reject("create", "", actor, errors.Wrap(models.ErrNotAuthorized, "only vendors create orders"))
	}
	if req.CustomerID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "customerId is required")
	}
	if !req.PickupLocation.Valid() || !req.DeliveryLocation.Valid() {
		return nil, errors.Wrap(models.ErrInvalidInput, "pickup and delivery locations must be valid coordinates")
	}
	if req.TotalAmount < 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "totalAmount must not be negative")
	}

	in := models.OrderCreateInput{
		OrderNumber:      req.OrderNumber,
		VendorID:         actor.UserID,
		CustomerID:       req.CustomerID,
		Items:            req.Items,
		TotalAmount:      req.TotalAmount,
		Notes:            req.Notes,
		PickupLocation:   req.PickupLocation,
		DeliveryLocation: req.DeliveryLocation,
	}

	var o *models.Order
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if req.OrderNumber == "" {
			in.OrderNumber = s.orderNumber()
		}
		o, err = s.repo.CreateOrder(ctx, in)
		// Retry only generated numbers; a caller-chosen duplicate is the caller's problem.
		if errors.Is(err, models.ErrAlreadyExists) && req.OrderNumber == "" {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, realtime.KindOrderCreated, o, realtime.OrderCreated{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		Status:      o.Status,
	})
	return o, nil
}

// AssignCourier moves a pending order to assigned. The courier must be
// registered under the acting vendor.
func (s *Service) AssignCourier(ctx context.Context, actor models.Identity, orderID, courierID string) (*models.Order, error) {
	if courierID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "deliveryPartnerId is required")
	}
	if actor.Role != models.RoleVendor {
		return nil, s.reject("assign", orderID, actor, errors.Wrap(models.ErrNotAuthorized, "only vendors assign couriers"))
	}

	registered := false
	o, err := s.mutate(ctx, orderID, func(o *models.Order) (*models.Order, error) {
		if err := checkTransition(o, actor, models.OrderStatusAssigned); err != nil {
			return nil, err
		}
		if !registered {
			ok, err := s.repo.IsCourierOfVendor(ctx, actor.UserID, courierID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errors.Wrap(models.ErrNotAuthorized, "courier is not registered under this vendor")
			}
			registered = true
		}
		c := courierID
		return s.repo.CompareAndSetStatus(ctx, models.StatusChange{
			OrderID:         o.ID,
			ExpectedStatus:  o.Status,
			ExpectedVersion: o.Version,
			Status:          models.OrderStatusAssigned,
			CourierID:       &c,
			At:              s.now(),
		})
	})
	if err != nil {
		return nil, s.reject("assign", orderID, actor, err)
	}

	s.notifyStatus(ctx, o, actor)
	s.notify(ctx, realtime.KindOrderAssigned, o, realtime.OrderAssigned{
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		VendorID:          o.VendorID,
		DeliveryPartnerID: courierID,
	})
	return o, nil
}

// UpdateStatus applies every transition except assignment, which needs a
// courier and goes through AssignCourier.
func (s *Service) UpdateStatus(ctx context.Context, actor models.Identity, orderID string, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, errors.Wrapf(models.ErrInvalidInput, "unknown status %q", status)
	}
	if status == models.OrderStatusAssigned {
		return nil, errors.Wrap(models.ErrInvalidInput, "use the assign operation to assign a courier")
	}

	o, err := s.mutate(ctx, orderID, func(o *models.Order) (*models.Order, error) {
		if err := checkTransition(o, actor, status); err != nil {
			return nil, err
		}
		return s.repo.CompareAndSetStatus(ctx, models.StatusChange{
			OrderID:         o.ID,
			ExpectedStatus:  o.Status,
			ExpectedVersion: o.Version,
			Status:          status,
			At:              s.now(),
		})
	})
	if err != nil {
		return nil, s.reject("status", orderID, actor, err)
	}

	if o.Status.Terminal() && s.sessions != nil {
		s.sessions.CloseOrder(o.ID)
	}
	s.notifyStatus(ctx, o, actor)
	return o, nil
}

// UpdateLocation is accepted only from the assigned courier while the order
// is assigned, picked or in transit.
func (s *Service) UpdateLocation(ctx context.Context, actor models.Identity, orderID string, loc models.Location) (*models.Order, error) {
	if actor.Role != models.RoleDelivery {
		return nil, s.reject("location", orderID, actor, errors.Wrap(models.ErrNotAuthorized, "only couriers report location"))
	}
	if !loc.Valid() {
		return nil, errors.Wrap(models.ErrInvalidInput, "latitude/longitude out of range")
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = s.now()
	}

	o, err := s.mutate(ctx, orderID, func(o *models.Order) (*models.Order, error) {
		if !o.HasCourier(actor.UserID) || !o.Status.Trackable() {
			return nil, errors.Wrap(models.ErrNotAuthorized, "not the assigned courier of an active order")
		}
		return s.repo.AppendLocation(ctx, models.LocationAppend{
			OrderID:   o.ID,
			CourierID: actor.UserID,
			Location:  loc,
		})
	})
	if err != nil {
		return nil, s.reject("location", orderID, actor, err)
	}

	s.notify(ctx, realtime.KindLocationUpdated, o, realtime.LocationUpdated{
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		Location:          loc,
		DeliveryPartnerID: actor.UserID,
	})
	return o, nil
}

type TrackingLink struct {
	OrderNumber   string `json:"orderNumber"`
	TrackingToken string `json:"trackingToken"`
	TrackingURL   string `json:"trackingUrl"`
}

// GenerateTrackingLink issues a new token, revoking the previous link.
func (s *Service) GenerateTrackingLink(ctx context.Context, actor models.Identity, orderID string) (*TrackingLink, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleVendor || o.VendorID != actor.UserID {
		return nil, s.reject("tracking_link", orderID, actor, errors.Wrap(models.ErrNotAuthorized, "only the owning vendor shares tracking"))
	}
	tok, err := s.tokens.Issue(ctx, o.OrderNumber)
	if err != nil {
		return nil, err
	}
	return &TrackingLink{
		OrderNumber:   o.OrderNumber,
		TrackingToken: tok,
		TrackingURL:   s.trackingURL(o.OrderNumber, tok),
	}, nil
}

func (s *Service) trackingURL(orderNumber, token string) string {
	return fmt.Sprintf("%s/track/%s/%s", s.baseURL, url.PathEscape(orderNumber), url.PathEscape(token))
}

func (s *Service) GetOrder(ctx context.Context, actor models.Identity, orderID string) (*models.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanView(o, actor) {
		return nil, errors.Wrap(models.ErrNotAuthorized, "order belongs to someone else")
	}
	return o, nil
}

func (s *Service) CurrentLocation(ctx context.Context, actor models.Identity, orderID string) (*models.Location, error) {
	o, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.CurrentLocation == nil {
		return nil, errors.Wrap(models.ErrNotFound, "no location data available")
	}
	return o.CurrentLocation, nil
}

func (s *Service) LocationHistory(ctx context.Context, actor models.Identity, orderID string) ([]models.Location, error) {
	o, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.LocationHistory == nil {
		return []models.Location{}, nil
	}
	return o.LocationHistory, nil
}

// mutate runs fn against a fresh read of the order and repeats it when the
// write lost an optimistic concurrency race. Every retry re-evaluates the
// rules against the state the winner left behind.
func (s *Service) mutate(ctx context.Context, orderID string, fn func(o *models.Order) (*models.Order, error)) (*models.Order, error) {
	if orderID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "order id is required")
	}
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		o, err := s.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		out, err := fn(o)
		if errors.Is(err, models.ErrStaleState) {
			continue
		}
		return out, err
	}
	return nil, errors.Wrapf(models.ErrStaleState, "gave up after %d attempts", s.maxAttempts)
}

func (s *Service) notifyStatus(ctx context.Context, o *models.Order, actor models.Identity) {
	s.notify(ctx, realtime.KindStatusUpdated, o, realtime.StatusUpdated{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		UpdatedBy:     actor.UserID,
		UpdatedByRole: actor.Role,
		At:            o.UpdatedAt,
	})
}

func (s *Service) notify(ctx context.Context, kind realtime.Kind, o *models.Order, payload any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, kind, realtime.TargetOf(o), payload); err != nil {
		slog.Error("orders: notify failed", "kind", string(kind), "order_id", o.ID, "err", err)
	}
}

func (s *Service) reject(op, orderID string, actor models.Identity, err error) error {
	switch {
	case errors.Is(err, models.ErrNotAuthorized),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrStaleState):
		slog.Warn("orders: write rejected", "op", op, "order_id", orderID, "user_id", actor.UserID, "role", string(actor.Role), "reason", err.Error())
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidInput):
	default:
		slog.Error("orders: write failed", "op", op, "order_id", orderID, "user_id", actor.UserID, "err", err)
	}
	return err
}

// orderNumberSpace keeps a same-day collision unlikely even at a million
// orders a day; CreateOrder retries the rare one.
const orderNumberSpace = 100_000_000

// orderNumber generates ORD-YYYYMMDD-NNNNNNNN.
func (s *Service) orderNumber() string {
	return fmt.Sprintf("ORD-%s-%08d", s.now().Format("20060102"), s.rnd.Intn(orderNumberSpace))
}
