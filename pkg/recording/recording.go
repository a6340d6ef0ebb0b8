// Package recording holds the in-memory model of a profiling session: the
// calls reconstructed from stack samples, the markers emitted by the logging
// API, and the periodic resource statuses. It also owns the binary encoding
// and persistence of a recording.
//
// A Recording is written concurrently by three independent producers. Each
// collection is guarded by its own mutex so that the stack sampler (calls),
// the status sampler (statuses) and any goroutine using the logging API
// (markers) never contend with each other. Appended values are never mutated
// afterwards; readers receive copies.
package recording

import (
	"sync"
	"time"
)

// Recording is the shared aggregate of calls, markers and statuses.
type Recording struct {
	metaMu          sync.RWMutex
	applicationName string
	sessionID       string
	parentID        string
	start           time.Time

	callsMu sync.Mutex
	calls   []Call

	markersMu sync.Mutex
	markers   []Marker

	statusesMu sync.Mutex
	statuses   []Status
}

// New creates an empty recording whose clock starts now.
func New(applicationName string) *Recording {
	return &Recording{applicationName: applicationName, start: time.Now()}
}

// ApplicationName returns the name of the profiled application.
func (r *Recording) ApplicationName() string {
	r.metaMu.RLock()
	defer r.metaMu.RUnlock()
	return r.applicationName
}

// SessionID returns the identifier of the session that produced the recording.
func (r *Recording) SessionID() string {
	r.metaMu.RLock()
	defer r.metaMu.RUnlock()
	return r.sessionID
}

// ParentID returns the session identifier of the parent process, if any.
func (r *Recording) ParentID() string {
	r.metaMu.RLock()
	defer r.metaMu.RUnlock()
	return r.parentID
}

// Start returns the wall-clock time the recording's offsets are relative to.
func (r *Recording) Start() time.Time {
	r.metaMu.RLock()
	defer r.metaMu.RUnlock()
	return r.start
}

// Now returns the offset of the current instant from the recording start.
func (r *Recording) Now() time.Duration {
	return time.Since(r.Start())
}

// Reset clears all collections and starts a new session clock.
func (r *Recording) Reset(applicationName, sessionID, parentID string) {
	r.metaMu.Lock()
	r.applicationName = applicationName
	r.sessionID = sessionID
	r.parentID = parentID
	r.start = time.Now()
	r.metaMu.Unlock()
	r.Clear()
}

// Clear drops every call, marker and status.
func (r *Recording) Clear() {
	r.callsMu.Lock()
	r.calls = nil
	r.callsMu.Unlock()

	r.markersMu.Lock()
	r.markers = nil
	r.markersMu.Unlock()

	r.statusesMu.Lock()
	r.statuses = nil
	r.statusesMu.Unlock()
}

// AddCall appends finalized calls.
func (r *Recording) AddCall(calls ...Call) {
	if len(calls) == 0 {
		return
	}
	r.callsMu.Lock()
	r.calls = append(r.calls, calls...)
	r.callsMu.Unlock()
}

// AddMarker appends a marker.
func (r *Recording) AddMarker(m Marker) {
	r.markersMu.Lock()
	r.markers = append(r.markers, m)
	r.markersMu.Unlock()
}

// AddStatus appends a status unless it is similar to the last stored one.
// It reports whether the status was stored.
func (r *Recording) AddStatus(s Status) bool {
	r.statusesMu.Lock()
	defer r.statusesMu.Unlock()
	if n := len(r.statuses); n > 0 && s.IsSimilar(r.statuses[n-1]) {
		return false
	}
	r.statuses = append(r.statuses, s)
	return true
}

// Calls returns a copy of the recorded calls.
func (r *Recording) Calls() []Call {
	r.callsMu.Lock()
	defer r.callsMu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Markers returns a copy of the recorded markers.
func (r *Recording) Markers() []Marker {
	r.markersMu.Lock()
	defer r.markersMu.Unlock()
	return append([]Marker(nil), r.markers...)
}

// Statuses returns a copy of the recorded statuses.
func (r *Recording) Statuses() []Status {
	r.statusesMu.Lock()
	defer r.statusesMu.Unlock()
	return append([]Status(nil), r.statuses...)
}

// replace swaps in decoded contents wholesale.
func (r *Recording) replace(d *decoded) {
	r.metaMu.Lock()
	r.applicationName = d.application
	r.sessionID = d.sessionID
	r.parentID = d.parentID
	r.start = d.start
	r.metaMu.Unlock()

	r.callsMu.Lock()
	r.calls = d.calls
	r.callsMu.Unlock()

	r.markersMu.Lock()
	r.markers = d.markers
	r.markersMu.Unlock()

	r.statusesMu.Lock()
	r.statuses = d.statuses
	r.statusesMu.Unlock()
}
