package session

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"
	"gitlab.com/plurl/plurl"
)

// Journal receives every recorded event as it happens so a crashed
// session still leaves a durable record.
type Journal interface {
	Append(evt *plurl.Event) error
}

// Logger owns the session: the start timestamp, the append-only event
// sequence and the end timestamp. All other components hold only a
// reference for appending; none of them read or mutate the sequence.
type Logger struct {
	mu        sync.Mutex
	id        string
	start     time.Time
	end       time.Time
	events    []*plurl.Event
	finalized bool

	verbose bool
	logFile string
	journal Journal
	console zerolog.Logger
}

// New session logger. When logFile is non-empty the full session is
// serialized there at finalization.
func New(logFile string, verbose bool) *Logger {
	return &Logger{
		id:      uuid.NewV4().String(),
		start:   time.Now(),
		verbose: verbose,
		logFile: logFile,
		console: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
	}
}

// SetJournal attaches a durable journal; every Record is written
// through to it best-effort.
func (l *Logger) SetJournal(j Journal) {
	l.mu.Lock()
	l.journal = j
	l.mu.Unlock()
}

// ID of this session.
func (l *Logger) ID() string { return l.id }

// Record appends one timestamped event. Safe under concurrent
// invocation, never blocks on I/O beyond the console sink, and never
// propagates an internal fault to the caller.
func (l *Logger) Record(eventType string, data plurl.EventData) {
	defer func() {
		if r := recover(); r != nil {
			l.console.Debug().Msgf("dropped event %s: %v", eventType, r)
		}
	}()

	evt := &plurl.Event{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Type:      eventType,
		Data:      data,
	}

	l.mu.Lock()
	l.events = append(l.events, evt)
	journal := l.journal
	l.mu.Unlock()

	if journal != nil {
		if err := journal.Append(evt); err != nil {
			l.console.Debug().Err(err).Msg("journal append failed")
		}
	}
	l.mirror(eventType, data)
}

// API records one HTTP attempt.
func (l *Logger) API(method, url string, statusCode *int, responseTimeMS *float64, errMsg string) {
	l.Record(plurl.EventAPI, &plurl.APIEvent{
		Method:         method,
		URL:            url,
		StatusCode:     statusCode,
		ResponseTimeMS: responseTimeMS,
		Error:          errMsg,
	})
}

// Browser records one browser action.
func (l *Logger) Browser(action, message string, details map[string]interface{}) {
	l.Record(plurl.EventBrowser, &plurl.BrowserEvent{
		Action:  action,
		Message: message,
		Details: details,
	})
}

// Phase marks the start of a named session phase.
func (l *Logger) Phase(name, message string) {
	l.Record(plurl.EventPhase, &plurl.PhaseEvent{Name: name, Message: message})
}

// Error records an error classification event.
func (l *Logger) Error(message string, err error) {
	data := &plurl.MessageEvent{Message: message, Level: "ERROR"}
	if err != nil {
		data.ErrorType = errType(err)
		data.ErrorDetails = err.Error()
	}
	l.Record(plurl.EventError, data)
}

// Success records a success classification event.
func (l *Logger) Success(message string) {
	l.Record(plurl.EventSuccess, &plurl.MessageEvent{Message: message, Level: "INFO"})
}

// Warning records a warning classification event.
func (l *Logger) Warning(message string) {
	l.Record(plurl.EventWarning, &plurl.MessageEvent{Message: message, Level: "WARNING"})
}

// Events returns a snapshot of the recorded sequence.
func (l *Logger) Events() []*plurl.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := make([]*plurl.Event, len(l.events))
	copy(snapshot, l.events)
	return snapshot
}

// Finalize stamps the session end and, when a log file was configured,
// writes the session document exactly once. A second call is a no-op.
// Write failures go to the console and never propagate.
func (l *Logger) Finalize() {
	l.mu.Lock()
	if l.finalized {
		l.mu.Unlock()
		return
	}
	l.finalized = true
	l.end = time.Now()
	doc := &plurl.SessionDocument{
		SessionID:    l.id,
		SessionStart: l.start.Format(time.RFC3339Nano),
		SessionEnd:   l.end.Format(time.RFC3339Nano),
		Events:       make([]*plurl.Event, len(l.events)),
	}
	copy(doc.Events, l.events)
	path := l.logFile
	l.mu.Unlock()

	if path == "" {
		return
	}
	if err := writeDocument(path, doc); err != nil {
		l.console.Error().Err(err).Msg("failed to write session log")
		return
	}
	if l.verbose {
		l.console.Info().Str("file", path).Msg("session log written")
	}
}

func writeDocument(path string, doc *plurl.SessionDocument) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0644)
}

func (l *Logger) mirror(eventType string, data plurl.EventData) {
	classified := eventType == plurl.EventError ||
		eventType == plurl.EventSuccess ||
		eventType == plurl.EventWarning
	if !l.verbose && !classified {
		return
	}
	evt := l.console.Info()
	switch eventType {
	case plurl.EventError:
		evt = l.console.Error()
	case plurl.EventWarning:
		evt = l.console.Warn()
	}
	evt.Str("type", eventType).Msg(data.EventMessage())
}

func errType(err error) string {
	type causer interface{ Cause() error }
	if c, ok := err.(causer); ok {
		err = c.Cause()
	}
	return fmt.Sprintf("%T", err)
}
