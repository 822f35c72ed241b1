package geosource

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
)

// ErrUnavailable means the device cannot produce a real position right now
// (no fix, permission denied, daemon down).
var ErrUnavailable = models.ErrLocationUnavailable

// Source produces one position per call. Implementations must honour ctx
// deadlines: the agent relies on them to bound every fetch.
type Source interface {
	Current(ctx context.Context) (models.Position, error)
}

// Watcher is implemented by sources that can push positions as they change.
// The channel is closed when ctx is done or the stream breaks.
type Watcher interface {
	Watch(ctx context.Context) (<-chan models.Position, error)
}

type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeDevice    Mode = "device"
	ModeSynthetic Mode = "synthetic"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeDevice, ModeSynthetic:
		return m, nil
	}
	return "", errors.Errorf("unknown source mode %q", s)
}

// Detector decides whether the real device source is usable. Tests force
// either path with ModeDevice / ModeSynthetic.
type Detector struct {
	Mode   Mode
	Device Source
	// ProbeTimeout bounds the auto-mode probe. default: 3s
	ProbeTimeout time.Duration
}

// Detect returns the device source, or nil when positions will have to be
// synthesized.
func (d Detector) Detect(ctx context.Context) Source {
	switch d.Mode {
	case ModeSynthetic:
		return nil
	case ModeDevice:
		return d.Device
	}
	if d.Device == nil {
		return nil
	}

	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := d.Device.Current(pctx); err != nil {
		slog.Warn("geosource: device source unavailable, using synthetic positions", "err", err)
		return nil
	}
	return d.Device
}
