// Package parser reads recorded drone telemetry files (CSV or JSON) so they can
// be loaded into the telemetry archive.
package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"drone-command-gateway/internal/models"
	"drone-command-gateway/internal/telemetry"

	log "github.com/sirupsen/logrus"
)

// Parser handles parsing of recorded telemetry files
type Parser struct {
	format string
	now    func() time.Time
}

// NewParser creates a new parser for "csv" or "json"
func NewParser(format string) *Parser {
	return &Parser{format: format, now: time.Now}
}

// ParseFile parses a telemetry file
func (p *Parser) ParseFile(filename string) ([]models.ArchivedSample, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse reads samples from r. Rows that fail coercion or validation are
// skipped with a warning.
func (p *Parser) Parse(r io.Reader) ([]models.ArchivedSample, error) {
	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(r)
	case "json":
		return p.parseJSON(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses CSV with a header row naming the gps_data fields
func (p *Parser) parseCSV(r io.Reader) ([]models.ArchivedSample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var results []models.ArchivedSample
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		// empty cells fall back to the field defaults
		data := make(map[string]interface{}, len(header))
		for i, key := range header {
			if i < len(record) && strings.TrimSpace(record[i]) != "" {
				data[key] = strings.TrimSpace(record[i])
			}
		}

		s, err := p.toSample(data)
		if err != nil {
			log.Warnf("line %d: %v", lineNum, err)
			continue
		}
		results = append(results, s)
	}

	return results, nil
}

// parseJSON accepts a JSON array of objects or newline-delimited objects
func (p *Parser) parseJSON(r io.Reader) ([]models.ArchivedSample, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var objects []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&objects); err == nil {
		var results []models.ArchivedSample
		for i, data := range objects {
			s, err := p.toSample(data)
			if err != nil {
				log.Warnf("item %d: %v", i, err)
				continue
			}
			results = append(results, s)
		}
		return results, nil
	}

	return p.parseJSONLines(bytes.NewReader(raw))
}

func (p *Parser) parseJSONLines(r io.Reader) ([]models.ArchivedSample, error) {
	var results []models.ArchivedSample
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}
		line = strings.TrimSuffix(line, ",")

		var data map[string]interface{}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil || data == nil {
			log.Warnf("line %d: not a JSON object", lineNum)
			continue
		}

		s, err := p.toSample(data)
		if err != nil {
			log.Warnf("line %d: %v", lineNum, err)
			continue
		}
		results = append(results, s)
	}

	return results, scanner.Err()
}

// toSample coerces one record the way the gps_data endpoint does. A recorded
// timestamp becomes the receive time; records without one are stamped now.
func (p *Parser) toSample(data map[string]interface{}) (models.ArchivedSample, error) {
	received := p.now()
	if v, ok := data["timestamp"]; ok && v != nil {
		ts, err := parseTimestamp(fmt.Sprint(v))
		if err != nil {
			return models.ArchivedSample{}, err
		}
		received = ts
	}

	sample, err := telemetry.FromPayload(data, received)
	if err != nil {
		return models.ArchivedSample{}, err
	}
	if problems := ValidateSample(&sample); len(problems) > 0 {
		return models.ArchivedSample{}, fmt.Errorf("invalid sample: %s", strings.Join(problems, "; "))
	}

	return models.ArchivedSample{ReceivedAt: received, TelemetrySample: sample}, nil
}

// parseTimestamp tries multiple timestamp formats. Zoneless layouts are read
// as gateway (EST) time.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, format := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	formats := []string{
		models.TimestampLayout,
		"2006-01-02T15:04:05",
		"2006/01/02 15:04:05",
		"01/02/2006 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, models.Zone); err == nil {
			return t, nil
		}
	}

	// Unix seconds
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// ValidateSample reports out-of-range telemetry values
func ValidateSample(t *models.TelemetrySample) []string {
	var errors []string

	if t.Latitude < -90 || t.Latitude > 90 {
		errors = append(errors, "latitude must be between -90 and 90")
	}
	if t.Longitude < -180 || t.Longitude > 180 {
		errors = append(errors, "longitude must be between -180 and 180")
	}
	if t.Speed < 0 {
		errors = append(errors, "speed cannot be negative")
	}
	if t.Satellites < 0 {
		errors = append(errors, "satellites cannot be negative")
	}
	if t.Battery < 0 || t.Battery > 100 {
		errors = append(errors, "battery must be between 0 and 100")
	}

	return errors
}
