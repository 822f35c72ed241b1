package pgorders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, order_number, vendor_id, customer_id, courier_id, status,
  items, total_amount, notes,
  pickup_location, delivery_location, current_location,
  tracking_token, estimated_delivery_at,
  assigned_at, picked_at, in_transit_at, delivered_at, cancelled_at,
  version, created_at, updated_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var status string
	var items, pickup, delivery, current []byte
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.VendorID, &o.CustomerID, &o.CourierID, &status,
		&items, &o.TotalAmount, &o.Notes,
		&pickup, &delivery, &current,
		&o.TrackingToken, &o.EstimatedDeliveryTime,
		&o.AssignedAt, &o.PickedAt, &o.InTransitAt, &o.DeliveredAt, &o.CancelledAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	if err := json.Unmarshal(pickup, &o.PickupLocation); err != nil {
		return nil, errors.Wrap(err, "decode pickup location")
	}
	if err := json.Unmarshal(delivery, &o.DeliveryLocation); err != nil {
		return nil, errors.Wrap(err, "decode delivery location")
	}
	if current != nil {
		var l models.Location
		if err := json.Unmarshal(current, &l); err != nil {
			return nil, errors.Wrap(err, "decode current location")
		}
		o.CurrentLocation = &l
	}
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.OrderNumber == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "order number is required")
	}
	items := in.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	itemsJSON, _ := json.Marshal(items)
	pickupJSON, _ := json.Marshal(in.PickupLocation)
	deliveryJSON, _ := json.Marshal(in.DeliveryLocation)
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO orders (
  id, order_number, vendor_id, customer_id, status,
  items, total_amount, notes, pickup_location, delivery_location,
  version, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, 1, $11, $11)
RETURNING `+orderColumns,
		uuid.NewString(), in.OrderNumber, in.VendorID, in.CustomerID, string(models.OrderStatusPending),
		string(itemsJSON), in.TotalAmount, in.Notes, string(pickupJSON), string(deliveryJSON), now,
	)
	o, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, errors.Wrapf(models.ErrAlreadyExists, "order number %s", in.OrderNumber)
		}
		return nil, errors.Wrap(err, "insert order")
	}
	return o, nil
}

func (s *Storage) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", id)
	}
	return s.getOrder(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (s *Storage) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.getOrder(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
}

func (s *Storage) getOrder(ctx context.Context, q querier, sql, key string) (*models.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, sql, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(models.ErrNotFound, "order %s", key)
		}
		return nil, errors.Wrap(err, "select order")
	}
	if o.LocationHistory, err = listLocations(ctx, q, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func listLocations(ctx context.Context, q querier, orderID string) ([]models.Location, error) {
	rows, err := q.Query(ctx, `
SELECT latitude, longitude, address, recorded_at
FROM order_locations
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select locations")
	}
	defer rows.Close()

	var out []models.Location
	for rows.Next() {
		var l models.Location
		if err := rows.Scan(&l.Latitude, &l.Longitude, &l.Address, &l.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CompareAndSetStatus updates the order only if both status and version
// still match what the caller read.
func (s *Storage) CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (*models.Order, error) {
	if _, err := uuid.Parse(ch.OrderID); err != nil {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", ch.OrderID)
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := ch.At.UTC()
	row := tx.QueryRow(ctx, `
UPDATE orders
SET
  status = $4::text,
  courier_id = COALESCE($5, courier_id),
  assigned_at   = CASE WHEN $4::text = 'assigned'   THEN $6 ELSE assigned_at END,
  picked_at     = CASE WHEN $4::text = 'picked'     THEN $6 ELSE picked_at END,
  in_transit_at = CASE WHEN $4::text = 'in_transit' THEN $6 ELSE in_transit_at END,
  delivered_at  = CASE WHEN $4::text = 'delivered'  THEN $6 ELSE delivered_at END,
  cancelled_at  = CASE WHEN $4::text = 'cancelled'  THEN $6 ELSE cancelled_at END,
  version = version + 1,
  updated_at = $6
WHERE id = $1 AND status = $2 AND version = $3
RETURNING `+orderColumns,
		ch.OrderID, string(ch.ExpectedStatus), ch.ExpectedVersion, string(ch.Status), ch.CourierID, at,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missOrStale(ctx, tx, ch.OrderID)
		}
		return nil, errors.Wrap(err, "update status")
	}
	if o.LocationHistory, err = listLocations(ctx, tx, o.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return o, nil
}

// AppendLocation records a courier position. The write is conditional on
// the courier still being assigned and the order still being trackable, so
// a status change racing with it wins cleanly.
func (s *Storage) AppendLocation(ctx context.Context, upd models.LocationAppend) (*models.Order, error) {
	if _, err := uuid.Parse(upd.OrderID); err != nil {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", upd.OrderID)
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	loc := upd.Location
	loc.Timestamp = loc.Timestamp.UTC()
	locJSON, _ := json.Marshal(loc)

	row := tx.QueryRow(ctx, `
UPDATE orders
SET current_location = $3, version = version + 1, updated_at = $4
WHERE id = $1 AND courier_id = $2 AND status IN ('assigned', 'picked', 'in_transit')
RETURNING `+orderColumns,
		upd.OrderID, upd.CourierID, string(locJSON), loc.Timestamp,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missOrStale(ctx, tx, upd.OrderID)
		}
		return nil, errors.Wrap(err, "update location")
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO order_locations (order_id, latitude, longitude, address, recorded_at)
VALUES ($1,$2,$3,$4,$5)
`, upd.OrderID, loc.Latitude, loc.Longitude, loc.Address, loc.Timestamp); err != nil {
		return nil, errors.Wrap(err, "insert location")
	}

	if o.LocationHistory, err = listLocations(ctx, tx, o.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return o, nil
}

func (s *Storage) missOrStale(ctx context.Context, tx pgx.Tx, orderID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return errors.Wrap(err, "check order")
	}
	if !exists {
		return errors.Wrapf(models.ErrNotFound, "order %s", orderID)
	}
	return models.ErrStaleState
}

func (s *Storage) SetTrackingToken(ctx context.Context, orderNumber, token string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET tracking_token = $2, version = version + 1, updated_at = now()
WHERE order_number = $1
`, orderNumber, token)
	if err != nil {
		return errors.Wrap(err, "update tracking token")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "order %s", orderNumber)
	}
	return nil
}
