package activity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"drone-command-gateway/internal/models"
)

// Line layout: [<timestamp> EST] IP: <address> | Action: <label> | Response: <summary>
const (
	timestampLayout = models.TimestampLayout + " MST"
	fieldSeparator  = " | "
	ipMarker        = " IP: "
	actionPrefix    = "Action: "
	responsePrefix  = "Response: "
	unknownIP       = "Unknown"
)

// MaxSummaryLength is the number of characters of a response kept in the log
const MaxSummaryLength = 200

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// FormatLine renders one newline-terminated log line.
// The field separator is not escaped; line breaks inside fields are flattened.
func FormatLine(t time.Time, source, action, response string) string {
	return fmt.Sprintf("[%s]%s%s%s%s%s%s%s%s\n",
		t.In(models.Zone).Format(timestampLayout),
		ipMarker, lineBreaks.Replace(source),
		fieldSeparator, actionPrefix, lineBreaks.Replace(action),
		fieldSeparator, responsePrefix, lineBreaks.Replace(Truncate(response, MaxSummaryLength)),
	)
}

// ParseLine parses a single log line. Lines that do not carry all three
// fields are reported with ok == false and should be skipped.
func ParseLine(line string) (models.ActionRecord, bool) {
	var rec models.ActionRecord

	line = strings.TrimSpace(line)
	if line == "" {
		return rec, false
	}

	// At most three fields: a separator inside the response stays part of it
	parts := strings.SplitN(line, fieldSeparator, 3)
	if len(parts) < 3 {
		return rec, false
	}

	head, ip, found := strings.Cut(parts[0], ipMarker)
	if !found {
		ip = unknownIP
	}

	rec.Time = strings.Trim(head, "[]")
	rec.IP = strings.TrimSpace(ip)
	rec.Action = strings.TrimSpace(strings.TrimPrefix(parts[1], actionPrefix))
	rec.Response = strings.TrimSpace(strings.TrimPrefix(parts[2], responsePrefix))

	return rec, true
}

// Truncate shortens s to at most n characters
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Label turns an action value into log text. Non-string values are kept
// whole as JSON.
func Label(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Summarize turns a response value into the text stored in the log.
// Objects contribute their "message" field when they have one.
func Summarize(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}:
		if msg, ok := val["message"]; ok && msg != nil {
			if s, ok := msg.(string); ok {
				return s
			}
			return fmt.Sprint(msg)
		}
	}
	return Label(v)
}
