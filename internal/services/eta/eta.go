package eta

import (
	"fmt"
	"math"
	"time"

	"github.com/BearBump/LiveTrack/internal/geo"
)

// DefaultSpeedKmh is the assumed courier speed when the caller has none.
const DefaultSpeedKmh = 20.0

type Estimate struct {
	DistanceKm  float64
	Minutes     float64
	Text        string
	ArrivalAt   time.Time
	ArrivalTime string // "15:04" in the location of now
}

// Compute estimates the remaining travel from current to destination.
// now is passed in so the result is deterministic.
func Compute(current, destination geo.Point, speedKmh float64, now time.Time) Estimate {
	if speedKmh <= 0 || math.IsNaN(speedKmh) || math.IsInf(speedKmh, 0) {
		speedKmh = DefaultSpeedKmh
	}
	d := geo.DistanceKm(current, destination)
	minutes := d / speedKmh * 60
	arrival := now.Add(time.Duration(minutes * float64(time.Minute)))
	return Estimate{
		DistanceKm:  d,
		Minutes:     minutes,
		Text:        FormatMinutes(minutes),
		ArrivalAt:   arrival,
		ArrivalTime: arrival.Format("15:04"),
	}
}

// FormatMinutes renders "N min" below one hour, "H hr M min" otherwise.
// Rounding happens before the split so 119.7 becomes "2 hr 0 min", not "1 hr 60 min".
func FormatMinutes(minutes float64) string {
	if minutes < 0 || math.IsNaN(minutes) {
		minutes = 0
	}
	total := int(math.Round(minutes))
	if total < 60 {
		return fmt.Sprintf("%d min", total)
	}
	return fmt.Sprintf("%d hr %d min", total/60, total%60)
}
