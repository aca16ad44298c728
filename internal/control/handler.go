// Package control implements the MQTT control plane of the scanner host.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/metrics"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Client is the subset of mqtt.Client the handler needs.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Options configures topics and QoS.
type Options struct {
	ControlTopic  string
	ResponseTopic string
	QoS           byte
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus     func() map[string]interface{}
	OnSetDevice     func(index int) error
	OnPause         func() error
	OnResume        func() error
	OnSetRotation   func(degrees int) error
	OnResizeSurface func(width, height int) error
}

// Handler handles control plane commands
type Handler struct {
	client    Client
	opts      Options
	callbacks CommandCallbacks
	commands  chan Command
}

// NewHandler creates a new control plane handler
func NewHandler(client Client, opts Options, callbacks CommandCallbacks) *Handler {
	return &Handler{
		client:    client,
		opts:      opts,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}
}

// Start subscribes to the control topic and processes commands until ctx
// is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("control: subscribing", "topic", h.opts.ControlTopic, "qos", h.opts.QoS)

	token := h.client.Subscribe(h.opts.ControlTopic, h.opts.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes from the control topic.
func (h *Handler) Stop() {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.opts.ControlTopic)
		token.WaitTimeout(2 * time.Second)
	}
	slog.Info("control: handler stopped")
}

// messageHandler is called by paho for every control message
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

func (h *Handler) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		metrics.ControlCommands.WithLabelValues("unknown", "error").Inc()
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.HandleCommand(cmd))
		}
	}
}

// knownCommands bounds the command label of the control metric; anything
// else is counted as "unknown".
var knownCommands = map[string]bool{
	"get_status":     true,
	"set_device":     true,
	"pause":          true,
	"resume":         true,
	"set_rotation":   true,
	"resize_surface": true,
}

func commandLabel(command string) string {
	if knownCommands[command] {
		return command
	}
	return "unknown"
}

// HandleCommand executes cmd and returns the response to publish.
func (h *Handler) HandleCommand(cmd Command) Response {
	resp := h.dispatch(cmd)
	resp.CommandAck = cmd.Command

	status := "ok"
	if resp.Status == "error" {
		status = "error"
		slog.Warn("control: command failed", "command", cmd.Command, "error", resp.Error)
	}
	metrics.ControlCommands.WithLabelValues(commandLabel(cmd.Command), status).Inc()
	return resp
}

func (h *Handler) dispatch(cmd Command) Response {
	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return notImplemented(cmd.Command)
		}
		return Response{Status: "success", Data: h.callbacks.OnGetStatus()}

	case "set_device":
		if h.callbacks.OnSetDevice == nil {
			return notImplemented(cmd.Command)
		}
		index, ok := intParam(cmd.Params, "index")
		if !ok {
			return errorResponse("missing or invalid 'index' parameter (expected integer)")
		}
		if err := h.callbacks.OnSetDevice(index); err != nil {
			return errorResponse(err.Error())
		}
		return Response{Status: "success", Data: map[string]interface{}{"device_index": index}}

	case "pause":
		if h.callbacks.OnPause == nil {
			return notImplemented(cmd.Command)
		}
		if err := h.callbacks.OnPause(); err != nil {
			return errorResponse(err.Error())
		}
		return Response{Status: "paused", Data: map[string]interface{}{"capture_active": false}}

	case "resume":
		if h.callbacks.OnResume == nil {
			return notImplemented(cmd.Command)
		}
		if err := h.callbacks.OnResume(); err != nil {
			return errorResponse(err.Error())
		}
		return Response{Status: "success", Data: map[string]interface{}{"capture_active": true}}

	case "set_rotation":
		if h.callbacks.OnSetRotation == nil {
			return notImplemented(cmd.Command)
		}
		degrees, ok := intParam(cmd.Params, "degrees")
		if !ok {
			return errorResponse("missing or invalid 'degrees' parameter (expected 0, 90, 180 or 270)")
		}
		if err := h.callbacks.OnSetRotation(degrees); err != nil {
			return errorResponse(err.Error())
		}
		return Response{Status: "success", Data: map[string]interface{}{"host_rotation": degrees}}

	case "resize_surface":
		if h.callbacks.OnResizeSurface == nil {
			return notImplemented(cmd.Command)
		}
		width, okW := intParam(cmd.Params, "width")
		height, okH := intParam(cmd.Params, "height")
		if !okW || !okH || width <= 0 || height <= 0 {
			return errorResponse("missing or invalid 'width'/'height' parameters (expected positive integers)")
		}
		if err := h.callbacks.OnResizeSurface(width, height); err != nil {
			return errorResponse(err.Error())
		}
		return Response{Status: "success", Data: map[string]interface{}{"width": width, "height": height}}

	default:
		return errorResponse(fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

// sendResponse publishes a response to the response topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.opts.ResponseTopic, h.opts.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("control: response publish timeout", "command", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("control: response publish failed", "command", resp.CommandAck, "error", err)
	}
}

// intParam extracts an integer parameter; JSON numbers decode as float64.
func intParam(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key].(float64)
	if !ok || v != float64(int(v)) {
		return 0, false
	}
	return int(v), true
}

func errorResponse(msg string) Response {
	return Response{Status: "error", Error: msg}
}

func notImplemented(command string) Response {
	return errorResponse(fmt.Sprintf("%s not implemented", command))
}
