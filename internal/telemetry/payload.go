package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"drone-command-gateway/internal/models"
)

const unknown = "unknown"

// ErrInvalidField is returned when a telemetry field cannot be coerced to its type
var ErrInvalidField = errors.New("invalid telemetry field")

// FromPayload converts a decoded JSON object into a sample stamped with now.
// Missing or null fields take their defaults.
func FromPayload(data map[string]interface{}, now time.Time) (models.TelemetrySample, error) {
	var t models.TelemetrySample
	var err error

	getFloat := func(key string, def float64) float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = toFloat(key, data[key], def)
		return v
	}

	t.DroneID = toString(data["drone_id"], unknown)
	t.Latitude = getFloat("latitude", 0)
	t.Longitude = getFloat("longitude", 0)
	t.Altitude = getFloat("altitude", 0)
	t.Speed = getFloat("speed", 0)
	t.Heading = getFloat("heading", 0)
	t.Satellites = int(getFloat("satellites", 0))
	t.FixType = toString(data["fix_type"], unknown)
	t.Battery = getFloat("battery", 100)
	if err != nil {
		return models.TelemetrySample{}, err
	}

	t.Timestamp = now.In(models.Zone).Format(models.TimestampLayout)
	return t, nil
}

func toFloat(key string, v interface{}, def float64) (float64, error) {
	f, err := rawFloat(key, v, def)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s: %v is not a finite number", ErrInvalidField, key, f)
	}
	return f, nil
}

func rawFloat(key string, v interface{}, def float64) (float64, error) {
	switch val := v.(type) {
	case nil:
		return def, nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidField, key, err)
		}
		return f, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidField, key, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported type %T", ErrInvalidField, key, v)
	}
}

func toString(v interface{}, def string) string {
	switch val := v.(type) {
	case nil:
		return def
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
