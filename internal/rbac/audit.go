// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package rbac

import (
	"strings"
	"sync"
	"time"

	"github.com/palisade-server/palisade/internal/logging"
)

// AuditEvent is one authorization decision record.
type AuditEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	ActorID   string        `json:"actor_id,omitempty"`
	Roles     []string      `json:"roles"`
	Resource  string        `json:"resource"`
	Action    string        `json:"action"`
	Allowed   bool          `json:"allowed"`
	Duration  time.Duration `json:"duration"`
	RequestID string        `json:"request_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// AuditLogger writes authorization decisions to the structured log without
// blocking the decision path. Events go through a buffered channel to a
// single writer goroutine; when the buffer is full the event is dropped and
// counted rather than stalling the caller.
type AuditLogger struct {
	events   chan AuditEvent
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

const defaultAuditBuffer = 1024

// NewAuditLogger creates and starts an audit logger. bufferSize <= 0 selects
// the default.
func NewAuditLogger(bufferSize int) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = defaultAuditBuffer
	}
	a := &AuditLogger{
		events: make(chan AuditEvent, bufferSize),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Log enqueues an event. Never blocks.
func (a *AuditLogger) Log(event AuditEvent) {
	select {
	case a.events <- event:
	case <-a.done:
	default:
		RecordAuditDropped()
	}
}

func (a *AuditLogger) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			// Drain what is already buffered before exiting.
			for {
				select {
				case event := <-a.events:
					a.write(event)
				default:
					return
				}
			}
		case event := <-a.events:
			a.write(event)
		}
	}
}

func (a *AuditLogger) write(event AuditEvent) {
	decision := "denied"
	if event.Allowed {
		decision = "allowed"
	}

	logEvent := logging.Info().
		Str("audit", "authz").
		Time("timestamp", event.Timestamp).
		Str("roles", strings.Join(event.Roles, ",")).
		Str("resource", event.Resource).
		Str("action", event.Action).
		Str("decision", decision).
		Dur("duration", event.Duration)

	if event.ActorID != "" {
		logEvent = logEvent.Str("actor_id", event.ActorID)
	}
	if event.RequestID != "" {
		logEvent = logEvent.Str("request_id", event.RequestID)
	}
	if event.Error != "" {
		logEvent = logEvent.Str("error", event.Error)
	}

	logEvent.Msg("authorization decision")
	RecordAuditEvent(event.Allowed)
}

// Close stops the writer after draining buffered events. Idempotent.
func (a *AuditLogger) Close() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}
