package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/LiveTrack/internal/cache"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/realtime"
)

type OrderStore interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	SetTrackingToken(ctx context.Context, orderNumber, token string) error
}

// CachedOrders puts a cache-aside layer in front of lookups by order
// number, which is what anonymous tracking traffic hits. The cache is best
// effort: any cache error falls through to the store.
//
// Every order has a generation counter next to its snapshot. A fill is
// tagged with the generation read before the store lookup, and a snapshot
// is served only while its tag still matches, so a fill that raced a write
// can never bring back the state the write replaced.
type CachedOrders struct {
	store OrderStore
	cache cache.BytesCache
	ttl   time.Duration
}

type cachedSnapshot struct {
	Gen   int64         `json:"gen"`
	Order *models.Order `json:"order"`
}

func NewCachedOrders(store OrderStore, c cache.BytesCache, ttl time.Duration) *CachedOrders {
	return &CachedOrders{store: store, cache: c, ttl: ttl}
}

func (c *CachedOrders) enabled() bool {
	return c.cache != nil && c.ttl > 0
}

// generation outlives any snapshot tagged with it.
func (c *CachedOrders) generationTTL() time.Duration {
	if d := 10 * c.ttl; d > 24*time.Hour {
		return d
	}
	return 24 * time.Hour
}

func (c *CachedOrders) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	if !c.enabled() {
		return c.store.GetOrderByNumber(ctx, orderNumber)
	}

	gen, err := c.generation(ctx, orderNumber)
	if err != nil {
		return c.store.GetOrderByNumber(ctx, orderNumber)
	}
	if b, ok, err := c.cache.Get(ctx, snapshotKey(orderNumber)); err == nil && ok {
		var snap cachedSnapshot
		if json.Unmarshal(b, &snap) == nil && snap.Order != nil && snap.Gen == gen {
			return snap.Order, nil
		}
	}

	o, err := c.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	b, _ := json.Marshal(cachedSnapshot{Gen: gen, Order: o})
	_ = c.cache.Set(ctx, snapshotKey(orderNumber), b, c.ttl)
	return o, nil
}

func (c *CachedOrders) generation(ctx context.Context, orderNumber string) (int64, error) {
	b, ok, err := c.cache.Get(ctx, generationKey(orderNumber))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(string(b), 10, 64)
}

// SetTrackingToken writes through and retires the cached copy so the old
// token stops working immediately.
func (c *CachedOrders) SetTrackingToken(ctx context.Context, orderNumber, token string) error {
	if err := c.store.SetTrackingToken(ctx, orderNumber, token); err != nil {
		return err
	}
	c.Invalidate(ctx, orderNumber)
	return nil
}

// Invalidate is called after every write to the order has reached the
// store.
func (c *CachedOrders) Invalidate(ctx context.Context, orderNumber string) {
	if !c.enabled() || orderNumber == "" {
		return
	}
	if _, err := c.cache.Incr(ctx, generationKey(orderNumber), c.generationTTL()); err != nil {
		slog.Warn("tracking: cache generation bump failed", "order_number", orderNumber, "err", err)
	}
	if err := c.cache.Delete(ctx, snapshotKey(orderNumber)); err != nil {
		slog.Warn("tracking: cache invalidate failed", "order_number", orderNumber, "err", err)
	}
}

func snapshotKey(orderNumber string) string {
	return fmt.Sprintf("order:%s:snapshot", orderNumber)
}

func generationKey(orderNumber string) string {
	return fmt.Sprintf("order:%s:gen", orderNumber)
}

type notifier interface {
	Notify(ctx context.Context, kind realtime.Kind, target realtime.Target, payload any) error
}

// Invalidator drops the cached snapshot of an order before passing each
// write notification on.
type Invalidator struct {
	next   notifier
	orders *CachedOrders
}

func NewInvalidator(next notifier, orders *CachedOrders) *Invalidator {
	return &Invalidator{next: next, orders: orders}
}

func (i *Invalidator) Notify(ctx context.Context, kind realtime.Kind, target realtime.Target, payload any) error {
	i.orders.Invalidate(ctx, target.OrderNumber)
	return i.next.Notify(ctx, kind, target, payload)
}
