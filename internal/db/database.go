package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"drone-command-gateway/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite telemetry archive
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		drone_id TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		altitude REAL NOT NULL,
		speed REAL NOT NULL,
		heading REAL NOT NULL,
		satellites INTEGER NOT NULL,
		fix_type TEXT NOT NULL,
		battery REAL NOT NULL,
		timestamp TEXT NOT NULL,
		received_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_telemetry_drone_id ON telemetry(drone_id);
	CREATE INDEX IF NOT EXISTS idx_telemetry_received_at ON telemetry(received_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// InsertSample archives a single telemetry sample
func (db *Database) InsertSample(t models.TelemetrySample, receivedAt time.Time) (int64, error) {
	query := `
		INSERT INTO telemetry
		(drone_id, latitude, longitude, altitude, speed, heading, satellites,
		 fix_type, battery, timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.conn.Exec(query,
		t.DroneID, t.Latitude, t.Longitude, t.Altitude, t.Speed, t.Heading,
		t.Satellites, t.FixType, t.Battery, t.Timestamp, receivedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// InsertBatch archives previously recorded samples in one transaction, keeping
// each sample's own receive time
func (db *Database) InsertBatch(samples []models.ArchivedSample) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO telemetry
		(drone_id, latitude, longitude, altitude, speed, heading, satellites,
		 fix_type, battery, timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, s := range samples {
		_, err := stmt.Exec(
			s.DroneID, s.Latitude, s.Longitude, s.Altitude, s.Speed, s.Heading,
			s.Satellites, s.FixType, s.Battery, s.Timestamp, s.ReceivedAt.UTC(),
		)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

const sampleColumns = `id, drone_id, latitude, longitude, altitude, speed, heading,
	satellites, fix_type, battery, timestamp, received_at`

func scanSample(rows *sql.Rows) (models.ArchivedSample, error) {
	var s models.ArchivedSample
	err := rows.Scan(
		&s.ID, &s.DroneID, &s.Latitude, &s.Longitude, &s.Altitude, &s.Speed,
		&s.Heading, &s.Satellites, &s.FixType, &s.Battery, &s.Timestamp, &s.ReceivedAt,
	)
	return s, err
}

// QuerySamples retrieves archived samples, newest first
func (db *Database) QuerySamples(q models.ArchiveQuery) ([]models.ArchivedSample, error) {
	var conditions []string
	var args []interface{}

	query := "SELECT " + sampleColumns + " FROM telemetry"

	if q.DroneID != "" {
		conditions = append(conditions, "drone_id = ?")
		args = append(args, q.DroneID)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ArchivedSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// RecentSamples returns the last limit samples in insertion order
func (db *Database) RecentSamples(limit int) ([]models.TelemetrySample, error) {
	archived, err := db.QuerySamples(models.ArchiveQuery{Limit: limit})
	if err != nil {
		return nil, err
	}

	samples := make([]models.TelemetrySample, len(archived))
	for i, s := range archived {
		samples[len(archived)-1-i] = s.TelemetrySample
	}
	return samples, nil
}

// GetStats returns archive statistics
func (db *Database) GetStats() (*models.ArchiveStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT drone_id),
			COALESCE(AVG(speed), 0),
			COALESCE(MAX(altitude), 0),
			COALESCE(MIN(battery), 0)
		FROM telemetry
	`

	var s models.ArchiveStats
	err := db.conn.QueryRow(query).Scan(
		&s.TotalSamples, &s.TotalDrones, &s.AvgSpeed, &s.MaxAltitude, &s.MinBattery,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
