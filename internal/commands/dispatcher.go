package commands

import (
	"context"

	"drone-command-gateway/internal/activity"
	"drone-command-gateway/internal/proxy"

	log "github.com/sirupsen/logrus"
)

// Forwarder sends a request to the drone controller
type Forwarder interface {
	Forward(ctx context.Context, req proxy.Request) proxy.Result
}

// Recorder appends one entry to the action history
type Recorder interface {
	Append(source, action, response string) bool
}

// Dispatcher runs commands against the controller and records every outcome
type Dispatcher struct {
	forwarder Forwarder
	recorder  Recorder
}

// NewDispatcher creates a dispatcher
func NewDispatcher(forwarder Forwarder, recorder Recorder) *Dispatcher {
	return &Dispatcher{forwarder: forwarder, recorder: recorder}
}

// Execute forwards cmd, swaps in the command's simulated body when the
// controller is offline, and appends exactly one history entry.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command, call Call) proxy.Result {
	req := proxy.Request{Method: cmd.Method, Command: cmd.Name, File: call.File}
	if call.File == nil && call.Payload != nil {
		req.Payload = call.Payload
	}

	result := d.forwarder.Forward(ctx, req)
	if result.Simulated() {
		result.Body = cmd.Simulated(call)
	}

	message := result.Message()
	if message == "" {
		message = cmd.DefaultMessage
	}

	if !d.recorder.Append(call.Source, cmd.Label(call), activity.Truncate(message, activity.MaxSummaryLength)) {
		log.WithField("command", cmd.Name).Warn("Command completed but was not recorded")
	}

	log.WithFields(log.Fields{
		"command": cmd.Name,
		"source":  call.Source,
		"outcome": result.Outcome.String(),
		"status":  result.StatusCode,
	}).Info("Command dispatched")

	return result
}
