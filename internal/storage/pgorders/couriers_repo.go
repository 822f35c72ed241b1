package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) AddCourier(ctx context.Context, vendorID, courierID string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO vendor_couriers (vendor_id, courier_id)
VALUES ($1, $2)
ON CONFLICT (vendor_id, courier_id) DO NOTHING
`, vendorID, courierID)
	if err != nil {
		return errors.Wrap(err, "insert courier")
	}
	return nil
}

func (s *Storage) IsCourierOfVendor(ctx context.Context, vendorID, courierID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM vendor_couriers WHERE vendor_id = $1 AND courier_id = $2)
`, vendorID, courierID).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "check courier")
	}
	return ok, nil
}
