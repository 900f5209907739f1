package watcher

import (
	"sort"
	"sync"
	"time"
)

// EventType represents the type of file event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	case EventRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one coalesced change to a path relative to the journal root
type FileEvent struct {
	Path      string
	EventType EventType
	Timestamp time.Time
}

// ChangeSet is every change seen during one burst of activity, sorted by path
type ChangeSet struct {
	Events []FileEvent
	At     time.Time
}

// Debouncer collects file events and emits them as one ChangeSet once
// no new event has arrived for the configured delay.
type Debouncer struct {
	delay   time.Duration
	events  map[string]FileEvent
	timer   *time.Timer
	mu      sync.Mutex
	sendMu  sync.Mutex
	output  chan ChangeSet
	stopCh  chan struct{}
	stopped bool
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(delayMs int) *Debouncer {
	return &Debouncer{
		delay:  time.Duration(delayMs) * time.Millisecond,
		events: make(map[string]FileEvent),
		output: make(chan ChangeSet, 16),
		stopCh: make(chan struct{}),
	}
}

// Events returns the channel of debounced change sets
func (d *Debouncer) Events() <-chan ChangeSet {
	return d.output
}

// Add records an event and restarts the quiet period
func (d *Debouncer) Add(path string, eventType EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	now := time.Now()
	if pending, exists := d.events[path]; exists {
		pending.EventType = coalesce(pending.EventType, eventType)
		pending.Timestamp = now
		d.events[path] = pending
	} else {
		d.events[path] = FileEvent{Path: path, EventType: eventType, Timestamp: now}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.emit)
}

// coalesce merges two events for the same path.
// DELETE wins over edits, a file replaced after deletion is a MODIFY,
// and CREATE followed by MODIFY stays CREATE.
func coalesce(prev, next EventType) EventType {
	switch {
	case next == EventDelete:
		return EventDelete
	case prev == EventDelete && next == EventCreate:
		return EventModify
	case prev == EventDelete:
		return EventDelete
	case prev == EventCreate && next == EventModify:
		return EventCreate
	default:
		return next
	}
}

// take removes and returns the pending events
func (d *Debouncer) take() (ChangeSet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.events) == 0 {
		return ChangeSet{}, false
	}

	cs := ChangeSet{Events: make([]FileEvent, 0, len(d.events)), At: time.Now()}
	for _, ev := range d.events {
		cs.Events = append(cs.Events, ev)
	}
	sort.Slice(cs.Events, func(i, j int) bool { return cs.Events[i].Path < cs.Events[j].Path })
	d.events = make(map[string]FileEvent)
	return cs, true
}

// emit sends the pending change set to the output channel
func (d *Debouncer) emit() {
	cs, ok := d.take()
	if !ok {
		return
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	select {
	case <-d.stopCh:
		return
	default:
	}
	select {
	case d.output <- cs:
	case <-d.stopCh:
	}
}

// Stop discards pending events and closes the output channel
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.events = make(map[string]FileEvent)
	close(d.stopCh)
	d.mu.Unlock()

	d.sendMu.Lock()
	close(d.output)
	d.sendMu.Unlock()
}

// pendingCount returns the number of paths waiting for the quiet period
func (d *Debouncer) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}
