// Package limiter implements a fixed-window admission counter keyed by
// caller id, served over gRPC. The poller and listener ask it for a token
// before joining a broadcaster's chat so that platform API admissions stay
// under a global budget no matter how many listener processes run.
package limiter

import "sync"

type window struct {
	start int64
	count int
}

// Limiter counts grants per id in fixed windows. A window opens on the
// first grant and ends windowSeconds later; the count does not slide.
type Limiter struct {
	mu            sync.Mutex
	limit         int
	windowSeconds int64
	windows       map[int64]*window
}

func New(limit int, windowSeconds int64) *Limiter {
	return &Limiter{
		limit:         limit,
		windowSeconds: windowSeconds,
		windows:       make(map[int64]*window),
	}
}

// Take consumes one token for id at the given Unix second. An id with no
// window, or whose window has lapsed, starts a fresh one and is granted.
func (l *Limiter) Take(id int64, now int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[id]
	if !ok || now-w.start > l.windowSeconds {
		l.windows[id] = &window{start: now, count: 1}
		return true
	}
	if w.count < l.limit {
		w.count++
		return true
	}
	return false
}
