// Package proxy forwards commands to the drone controller API and classifies
// the outcome so callers can keep working while the controller is offline.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultUploadTimeout = 30 * time.Second

	// FileField is the multipart field carrying mission files
	FileField = "mission_file"
)

// Messages returned for degraded outcomes
const (
	MessageUnavailable = "Drone API not available - running in simulation mode"
	MessageTimeout     = "Drone API timeout"
)

// Outcome classifies a forwarded call
type Outcome int

const (
	Success Outcome = iota
	BackendUnavailable
	BackendTimeout
	GatewayError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case BackendUnavailable:
		return "backend_unavailable"
	case BackendTimeout:
		return "backend_timeout"
	case GatewayError:
		return "gateway_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the classified response of a forwarded call
type Result struct {
	Outcome    Outcome
	Body       map[string]interface{}
	StatusCode int
}

// Simulated reports whether the result is the offline fallback
func (r Result) Simulated() bool {
	return r.Outcome == BackendUnavailable
}

// Message returns the body's message field, or "" when there is none
func (r Result) Message() string {
	msg, ok := r.Body["message"]
	if !ok || msg == nil {
		return ""
	}
	if s, ok := msg.(string); ok {
		return s
	}
	return fmt.Sprint(msg)
}

// Attachment is a file forwarded as multipart form data
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request describes one call to the controller.
// Payload and File are mutually exclusive; File takes precedence.
type Request struct {
	Method  string
	Command string
	Payload interface{}
	File    *Attachment
}

// Client talks to the drone controller API
type Client struct {
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	uploadTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithTimeouts overrides the JSON/GET and upload deadlines
func WithTimeouts(timeout, upload time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for the controller at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{},
		timeout:       DefaultTimeout,
		uploadTimeout: DefaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured controller address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get forwards a GET for command
func (c *Client) Get(ctx context.Context, command string) Result {
	return c.Forward(ctx, Request{Method: http.MethodGet, Command: command})
}

// PostJSON forwards a POST for command with payload encoded as JSON
func (c *Client) PostJSON(ctx context.Context, command string, payload interface{}) Result {
	return c.Forward(ctx, Request{Method: http.MethodPost, Command: command, Payload: payload})
}

// PostFile forwards a POST for command carrying file as multipart form data
func (c *Client) PostFile(ctx context.Context, command string, file Attachment) Result {
	return c.Forward(ctx, Request{Method: http.MethodPost, Command: command, File: &file})
}

// Forward sends req to the controller and classifies the result.
// It never returns an error: failures are expressed through the Result.
func (c *Client) Forward(ctx context.Context, req Request) Result {
	timeout := c.timeout
	if req.File != nil {
		timeout = c.uploadTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return gatewayError(err)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		result := classify(err)
		log.WithFields(log.Fields{
			"command": req.Command,
			"outcome": result.Outcome.String(),
			"elapsed": time.Since(start),
		}).WithError(err).Warn("Drone API call failed")
		return result
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		if isTimeout(err) {
			return timeoutResult()
		}
		return gatewayError(fmt.Errorf("invalid response from drone API (status %d): %w", resp.StatusCode, err))
	}
	if body == nil {
		return gatewayError(fmt.Errorf("empty response from drone API (status %d)", resp.StatusCode))
	}

	log.WithFields(log.Fields{
		"command": req.Command,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start),
	}).Debug("Drone API call completed")

	return Result{Outcome: Success, Body: body, StatusCode: resp.StatusCode}
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + "/" + req.Command

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	switch {
	case method == http.MethodGet:
		return http.NewRequestWithContext(ctx, method, target, nil)

	case req.File != nil:
		body, contentType, err := multipartBody(req.File)
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		return httpReq, nil

	case req.Payload == nil:
		return http.NewRequestWithContext(ctx, method, target, nil)

	default:
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}
}

func multipartBody(file *Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FileField, escapeQuotes(file.Filename)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// classify maps a transport error onto an outcome. A connection that cannot be
// established, or is dropped before any response arrives, counts as the
// controller being offline.
func classify(err error) Result {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return unavailableResult()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return unavailableResult()
	}
	if isConnectionLost(err) {
		return unavailableResult()
	}
	if isTimeout(err) {
		return timeoutResult()
	}
	return gatewayError(err)
}

func isConnectionLost(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func unavailableResult() Result {
	return Result{
		Outcome:    BackendUnavailable,
		Body:       map[string]interface{}{"message": MessageUnavailable, "simulation": true},
		StatusCode: http.StatusOK,
	}
}

func timeoutResult() Result {
	return Result{
		Outcome:    BackendTimeout,
		Body:       map[string]interface{}{"message": MessageTimeout},
		StatusCode: http.StatusGatewayTimeout,
	}
}

func gatewayError(err error) Result {
	return Result{
		Outcome:    GatewayError,
		Body:       map[string]interface{}{"message": fmt.Sprintf("Gateway error: %v", err)},
		StatusCode: http.StatusInternalServerError,
	}
}
