package geo

import "math"

const EarthRadiusKm = 6371.0

type Point struct {
	Lat float64
	Lng float64
}

// DistanceKm returns the great-circle distance using the haversine formula
// on a spherical earth.
func DistanceKm(a, b Point) float64 {
	dLat := deg2rad(b.Lat - a.Lat)
	dLng := deg2rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(a.Lat))*math.Cos(deg2rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// PathKm sums the distances between consecutive points.
func PathKm(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += DistanceKm(points[i-1], points[i])
	}
	return total
}

func deg2rad(deg float64) float64 {
	return deg * (math.Pi / 180)
}
