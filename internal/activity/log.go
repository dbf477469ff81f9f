// Package activity implements the append-only action history file.
package activity

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"drone-command-gateway/internal/models"

	log "github.com/sirupsen/logrus"
)

// Log is an append-only text file of action records
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a log backed by the file at path. The file is created on first append.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the backing file path
func (l *Log) Path() string {
	return l.path
}

// Append writes one record. Failures are reported to the operator log and
// returned as false; they never propagate to the caller's request.
func (l *Log) Append(source, action, response string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := FormatLine(l.now(), source, action, response)
	if err := l.write(line); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"file":   l.path,
			"action": action,
		}).Error("Error logging action")
		return false
	}
	return true
}

func (l *Log) write(line string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}

	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return f.Close()
}

// Tail returns up to n of the most recent records, newest first.
// A missing file yields an empty result; unparseable lines are skipped.
func (l *Log) Tail(n int) ([]models.ActionRecord, error) {
	records := []models.ActionRecord{}
	if n <= 0 {
		return records, nil
	}

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return records, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	lines, err := lastLines(f, n)
	if err != nil {
		return records, fmt.Errorf("failed to read history file: %w", err)
	}

	for i := len(lines) - 1; i >= 0; i-- {
		rec, ok := ParseLine(lines[i])
		if !ok {
			log.WithField("line", lines[i]).Debug("Skipping malformed history line")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// lastLines keeps the final n non-blank lines of r in file order. The buffer
// grows with the file, so a large n costs nothing on a short history.
func lastLines(r io.Reader, n int) ([]string, error) {
	var ring []string
	total := 0

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && !isBlank(line) {
			if len(ring) < n {
				ring = append(ring, line)
			} else {
				ring[total%n] = line
			}
			total++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if total <= n {
		return ring, nil
	}

	start := total % n
	out := make([]string, 0, n)
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}

func isBlank(line string) bool {
	for _, c := range line {
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return false
		}
	}
	return true
}
