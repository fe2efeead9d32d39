package eventbridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Hook kinds editors may report.
const (
	TypeDocumentSaved  = "document.saved"
	TypeDocumentOpened = "document.opened"
	TypeEditorFocused  = "editor.focused"
)

// LanguageNuscr is the language id editors attach to nuScr documents.
const LanguageNuscr = "nuscr"

var knownTypes = map[string]struct{}{
	TypeDocumentSaved:  {},
	TypeDocumentOpened: {},
	TypeEditorFocused:  {},
}

// Event captures a single document hook emitted by an editor plugin.
type Event struct {
	Version    int       `json:"version"`
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Path       string    `json:"path"`
	LanguageID string    `json:"language_id"`
	ClientTime time.Time `json:"client_time"`
	ServerTime time.Time `json:"server_time"`
}

// Normalize applies defaults and canonical formatting before validation.
// Events posted without an id receive a fresh one.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.Path = strings.TrimSpace(e.Path)
	e.LanguageID = strings.ToLower(strings.TrimSpace(e.LanguageID))
	if e.LanguageID == "" && strings.HasSuffix(strings.ToLower(e.Path), ".nuscr") {
		e.LanguageID = LanguageNuscr
	}
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if _, ok := knownTypes[e.Type]; !ok {
		return fmt.Errorf("type %q not supported", e.Type)
	}
	if e.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

// IsNuscr reports whether the event concerns a nuScr document.
func (e Event) IsNuscr() bool {
	return e.LanguageID == LanguageNuscr
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Accepted int64  `json:"accepted"`
	Ignored  int64  `json:"ignored"`
}

// ack answers a posted hook.
type ack struct {
	Status     string    `json:"status"`
	EventID    string    `json:"event_id"`
	ServerTime time.Time `json:"server_time"`
}
