package chirp

import (
	"sync"
	"time"
)

// DuplicateFilter suppresses consecutive identical values only. A value
// that re-appears after a different one passes again.
type DuplicateFilter struct {
	mu   sync.Mutex
	last string
	seen bool
}

// Observe reports whether text differs from the immediately preceding value
func (f *DuplicateFilter) Observe(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen && f.last == text {
		return false
	}
	f.last = text
	f.seen = true
	return true
}

func (f *DuplicateFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = ""
	f.seen = false
}

// ResultHistory is a bounded most-recent-first list of decoded results
type ResultHistory struct {
	mu      sync.Mutex
	limit   int
	results []DecodedResult
}

func NewResultHistory(limit int) *ResultHistory {
	if limit <= 0 {
		limit = HistoryLimit
	}
	return &ResultHistory{
		limit:   limit,
		results: make([]DecodedResult, 0, limit),
	}
}

// Add inserts at the front and drops the oldest entry past the limit
func (h *ResultHistory) Add(result DecodedResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	h.results = append(h.results, DecodedResult{})
	copy(h.results[1:], h.results)
	h.results[0] = result
	if len(h.results) > h.limit {
		h.results = h.results[:h.limit]
	}
}

// Results returns a copy, most recent first
func (h *ResultHistory) Results() []DecodedResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DecodedResult, len(h.results))
	copy(out, h.results)
	return out
}

func (h *ResultHistory) Latest() (DecodedResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.results) == 0 {
		return DecodedResult{}, false
	}
	return h.results[0], true
}

func (h *ResultHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

func (h *ResultHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = h.results[:0]
}
