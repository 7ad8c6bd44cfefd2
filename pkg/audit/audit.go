// Package audit provides an immutable, structured audit log for
// device-side security-relevant events: command lifecycle transitions,
// pairing attempts, access decisions, and cloud registration/state
// changes (spec.md §7's error-propagation policy implies these are the
// events worth a durable trail; spec.md doesn't mandate a specific
// store, so this reuses the teacher's append-only JSONL FileStore
// verbatim in shape, repointed at this module's event taxonomy).
//
// Grounded on github.com/freitascorp/devopsclaw pkg/audit/audit.go: same
// Event/Store/FileStore/Logger structure, same "one JSON object per
// line, never rewritten" persistence model. Stdlib-only in both the
// teacher and here — there's no logging/audit-trail library in the
// corpus, and the teacher doesn't reach for one either.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventCommandCreated     EventType = "command.created"
	EventCommandStateChange EventType = "command.state_change"
	EventPairingStarted     EventType = "pairing.started"
	EventPairingConfirmed   EventType = "pairing.confirmed"
	EventPairingFailed      EventType = "pairing.failed"
	EventAccessDecision     EventType = "access.decision"
	EventAccessRevoked      EventType = "access.revoked"
	EventCloudRegistered    EventType = "cloud.registered"
	EventCloudStateChange   EventType = "cloud.state_change"
	EventWiFiBootstrap      EventType = "wifi.bootstrap"
)

// Event is a single immutable audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	Actor     string         `json:"actor"` // user_id, app_id, or "system"
	Action    string         `json:"action"`
	Target    *EventTarget   `json:"target,omitempty"`
	Result    *EventResult   `json:"result,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventTarget describes what the action was directed at.
type EventTarget struct {
	ComponentPath string `json:"component_path,omitempty"`
	CommandName   string `json:"command_name,omitempty"`
	AppID         string `json:"app_id,omitempty"`
}

// EventResult captures the outcome of the action.
type EventResult struct {
	Status string `json:"status"` // "success", "failure", "denied"
	Error  string `json:"error,omitempty"`
}

// QueryOptions filters audit log queries.
type QueryOptions struct {
	Actor string
	Type  EventType
	Since time.Time
	Until time.Time
	Limit int
}

// Store is the persistence interface for the audit log.
type Store interface {
	Append(ctx context.Context, event *Event) error
	Query(ctx context.Context, opts QueryOptions) ([]*Event, error)
}

// FileStore is an append-only JSON-Lines audit store: each line is one
// complete JSON event, the file is never rewritten.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-based audit store rooted at dir.
func NewFileStore(dir string) *FileStore {
	os.MkdirAll(dir, 0o700)
	return &FileStore{dir: dir}
}

func (s *FileStore) logFile() string {
	return filepath.Join(s.dir, "audit.jsonl")
}

// Append writes an event to the audit log.
func (s *FileStore) Append(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Query reads events matching opts.
func (s *FileStore) Query(ctx context.Context, opts QueryOptions) ([]*Event, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var results []*Event
	for _, e := range all {
		if opts.Actor != "" && e.Actor != opts.Actor {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			continue
		}
		results = append(results, e)
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

func (s *FileStore) readAll() ([]*Event, error) {
	data, err := os.ReadFile(s.logFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []*Event
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		events = append(events, &e)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := range data {
		if data[i] == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// Logger is a convenience wrapper over Store for the domain's event
// kinds.
type Logger struct {
	store Store
}

// NewLogger creates an audit logger backed by store.
func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// LogCommandCreated records a newly enqueued command.
func (l *Logger) LogCommandCreated(ctx context.Context, componentPath, commandName, actor string) error {
	return l.store.Append(ctx, &Event{
		Type:   EventCommandCreated,
		Actor:  actor,
		Action: "add_command",
		Target: &EventTarget{ComponentPath: componentPath, CommandName: commandName},
		Result: &EventResult{Status: "success"},
	})
}

// LogCommandStateChange records a command lifecycle transition.
func (l *Logger) LogCommandStateChange(ctx context.Context, componentPath, commandName, newState string) error {
	return l.store.Append(ctx, &Event{
		Type:   EventCommandStateChange,
		Actor:  "system",
		Action: "transition",
		Target: &EventTarget{ComponentPath: componentPath, CommandName: commandName},
		Result: &EventResult{Status: "success"},
		Metadata: map[string]any{
			"new_state": newState,
		},
	})
}

// LogPairingStarted records a new pairing session.
func (l *Logger) LogPairingStarted(ctx context.Context, sessionID, mode string) error {
	return l.store.Append(ctx, &Event{
		Type:      EventPairingStarted,
		Actor:     "anonymous",
		Action:    "start_pairing",
		SessionID: sessionID,
		Result:    &EventResult{Status: "success"},
		Metadata:  map[string]any{"mode": mode},
	})
}

// LogPairingOutcome records a pairing confirmation or failure.
func (l *Logger) LogPairingOutcome(ctx context.Context, sessionID string, confirmed bool, errMsg string) error {
	typ := EventPairingConfirmed
	status := "success"
	if !confirmed {
		typ = EventPairingFailed
		status = "failure"
	}
	return l.store.Append(ctx, &Event{
		Type:      typ,
		Actor:     "anonymous",
		Action:    "confirm_pairing",
		SessionID: sessionID,
		Result:    &EventResult{Status: status, Error: errMsg},
	})
}

// LogAccessDecision records whether a request was allowed or denied.
func (l *Logger) LogAccessDecision(ctx context.Context, userID, appID string, allowed bool, reason string) error {
	status := "success"
	if !allowed {
		status = "denied"
	}
	return l.store.Append(ctx, &Event{
		Type:   EventAccessDecision,
		Actor:  userID,
		Action: "authorize",
		Target: &EventTarget{AppID: appID},
		Result: &EventResult{Status: status, Error: reason},
	})
}

// LogCloudStateChange records a GCD state-machine transition.
func (l *Logger) LogCloudStateChange(ctx context.Context, newState string) error {
	return l.store.Append(ctx, &Event{
		Type:     EventCloudStateChange,
		Actor:    "system",
		Action:   "gcd_state_change",
		Result:   &EventResult{Status: "success"},
		Metadata: map[string]any{"new_state": newState},
	})
}
