package loader

import (
	"time"

	"feedflow/internal/feed"
)

// State is the outcome of the most recent completed load of a feed.
type State int

const (
	// Idle means the feed has never been loaded.
	Idle State = iota
	// Pending means the first load is in flight.
	Pending
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the per-feed view of the loader.
type Status struct {
	State       State     `json:"state"`
	Err         error     `json:"-"`
	Attempts    int       `json:"attempts"`
	InFlight    bool      `json:"inFlight"`
	UpdatedAt   time.Time `json:"updatedAt"`
	LastSuccess time.Time `json:"lastSuccess"`
	// Failures counts consecutive failed loads.
	Failures int `json:"failures"`
	// NextPollAt is when a failing feed is next polled in the background.
	// Zero means the next cycle.
	NextPollAt time.Time `json:"nextPollAt"`
}

func (l *Loader) begin(feedID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight[feedID]++
	status := l.statuses[feedID]
	if status.State == Idle {
		status.State = Pending
	}
	status.InFlight = true
	l.statuses[feedID] = status
}

func (l *Loader) complete(feedID string, err error, canceled bool, attempts int, registered bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[feedID] > 1 {
		l.inFlight[feedID]--
	} else {
		delete(l.inFlight, feedID)
	}
	if !registered {
		delete(l.statuses, feedID)
		return
	}
	now := l.opts.Clock.Now()
	status := l.statuses[feedID]
	status.InFlight = l.inFlight[feedID] > 0
	switch {
	case canceled:
		// The previous outcome stands.
		if status.State == Pending && !status.InFlight {
			status.State = Idle
		}
		l.statuses[feedID] = status
		return
	case err != nil:
		status.State = Failed
		status.Err = err
		status.Failures++
		status.NextPollAt = time.Time{}
		if status.Failures > 1 {
			status.NextPollAt = feed.NextPollAt(now, l.opts.PollInterval, status.Failures-1)
		}
	default:
		status.State = Success
		status.Err = nil
		status.LastSuccess = now
		status.Failures = 0
		status.NextPollAt = time.Time{}
		l.everSucceeded = true
	}
	status.Attempts = attempts
	status.UpdatedAt = now
	l.statuses[feedID] = status
}

// Status returns the status of one feed.
func (l *Loader) Status(feedID string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[feedID]
}

// Statuses returns the status of every registered feed, keyed by id.
func (l *Loader) Statuses() map[string]Status {
	descs := l.registry.All()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Status, len(descs))
	for _, desc := range descs {
		out[desc.ID] = l.statuses[desc.ID]
	}
	return out
}

// IsInitialLoading is true until some feed has produced data, as long as
// some registered feed has not finished its first load.
func (l *Loader) IsInitialLoading() bool {
	descs := l.registry.All()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.everSucceeded {
		return false
	}
	for _, desc := range descs {
		switch l.statuses[desc.ID].State {
		case Idle, Pending:
			return true
		}
	}
	return false
}

// IsFetching is true while any load is in flight.
func (l *Loader) IsFetching() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight) > 0
}

// ErrorCount is the number of registered feeds whose latest load failed.
func (l *Loader) ErrorCount() int {
	n := 0
	for _, status := range l.Statuses() {
		if status.State == Failed {
			n++
		}
	}
	return n
}

func (l *Loader) IsError() bool {
	return l.ErrorCount() > 0
}

// AllFailed is true when feeds are registered and every one of them failed
// its latest load without any feed ever succeeding.
func (l *Loader) AllFailed() bool {
	statuses := l.Statuses()
	l.mu.Lock()
	everSucceeded := l.everSucceeded
	l.mu.Unlock()
	if everSucceeded || len(statuses) == 0 {
		return false
	}
	for _, status := range statuses {
		if status.State != Failed {
			return false
		}
	}
	return true
}
