// Package simulator produces synthetic drone telemetry and pushes it to a
// running gateway, standing in for a real drone during development.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Miami
const (
	BaseLatitude  = 25.7617
	BaseLongitude = -80.1918
	BaseAltitude  = 10.0
)

// Reading is one telemetry push in the gateway's gps_data format
type Reading struct {
	DroneID    string  `json:"drone_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   float64 `json:"altitude"`
	Speed      float64 `json:"speed"`
	Heading    float64 `json:"heading"`
	Satellites int     `json:"satellites"`
	FixType    string  `json:"fix_type"`
	Battery    float64 `json:"battery"`
}

// Flight generates a circular flight pattern around a base position
type Flight struct {
	DroneID string
	Radius  float64 // degrees, about 100 m at 0.001
	Step    float64 // heading increment per reading, degrees

	angle float64
	rnd   *rand.Rand
}

// NewFlight creates a flight for droneID using seed for speed and satellite jitter
func NewFlight(droneID string, seed int64) *Flight {
	return &Flight{
		DroneID: droneID,
		Radius:  0.001,
		Step:    5,
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

// Next returns the reading at the current position and advances the flight
func (f *Flight) Next() Reading {
	rad := f.angle * math.Pi / 180

	r := Reading{
		DroneID:    f.DroneID,
		Latitude:   BaseLatitude + f.Radius*math.Sin(rad),
		Longitude:  BaseLongitude + f.Radius*math.Cos(rad),
		Altitude:   math.Max(2, BaseAltitude+5*math.Sin(2*rad)),
		Speed:      5 + (f.rnd.Float64()*2 - 1),
		Heading:    math.Mod(f.angle, 360),
		Satellites: 8 + f.rnd.Intn(7),
		FixType:    "3D",
		Battery:    math.Max(20, 100-f.angle/36),
	}

	f.angle = math.Mod(f.angle+f.Step, 360)
	return r
}

// Sender posts readings to a gateway
type Sender struct {
	url    string
	client *http.Client
}

// NewSender creates a sender for the gateway's gps_data endpoint
func NewSender(gatewayURL string) *Sender {
	return &Sender{
		url:    gatewayURL + "/api/gps_data",
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send posts one reading and returns the gateway's status code
func (s *Sender) Send(ctx context.Context, r Reading) (int, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("failed to encode reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// ErrInvalidInterval is returned by Run for a non-positive interval
var ErrInvalidInterval = errors.New("interval must be positive")

// Run pushes count readings (forever when count <= 0) every interval until ctx
// is done. Send failures are passed to report and do not stop the flight.
func Run(ctx context.Context, f *Flight, s *Sender, interval time.Duration, count int, report func(Reading, int, error)) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count <= 0 || sent < count; sent++ {
		r := f.Next()
		status, err := s.Send(ctx, r)
		if report != nil {
			report(r, status, err)
		}

		if count > 0 && sent+1 >= count {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
