package models

import "time"

// Position is a single sample produced by a positioning source on the courier device.
type Position struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Simulated bool      `json:"simulated,omitempty"`
}

type SessionStats struct {
	TotalDistanceKm float64       `json:"totalDistanceKm"`
	AverageSpeedKmh float64       `json:"averageSpeedKmh"`
	SampleCount     int           `json:"sampleCount"`
	Elapsed         time.Duration `json:"elapsed"`
}
