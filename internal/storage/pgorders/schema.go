package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id UUID PRIMARY KEY,
  order_number TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  customer_id TEXT NOT NULL DEFAULT '',
  courier_id TEXT NULL,
  status TEXT NOT NULL,
  items JSONB NOT NULL DEFAULT '[]',
  total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
  notes TEXT NOT NULL DEFAULT '',
  pickup_location JSONB NOT NULL,
  delivery_location JSONB NOT NULL,
  current_location JSONB NULL,
  tracking_token TEXT NULL,
  estimated_delivery_at TIMESTAMPTZ NULL,
  assigned_at TIMESTAMPTZ NULL,
  picked_at TIMESTAMPTZ NULL,
  in_transit_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  cancelled_at TIMESTAMPTZ NULL,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_number ON orders(order_number);`,
		`CREATE INDEX IF NOT EXISTS ix_orders_vendor ON orders(vendor_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS ix_orders_courier ON orders(courier_id) WHERE courier_id IS NOT NULL;`,
		`
CREATE TABLE IF NOT EXISTS order_locations (
  id BIGSERIAL PRIMARY KEY,
  order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  recorded_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS ix_order_locations_order ON order_locations(order_id, id);`,
		`
CREATE TABLE IF NOT EXISTS vendor_couriers (
  vendor_id TEXT NOT NULL,
  courier_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (vendor_id, courier_id)
);`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
