package engine

import (
	"sort"
	"sync"
	"time"
)

// candidateRecord tracks one adapter's history. Records are never deleted:
// an adapter that failed an hour ago is still a better lead than nothing
// when every other path is down.
type candidateRecord struct {
	candidate   Candidate
	lastFailure time.Time
	failures    int
	successes   int
}

// Registry tracks every adapter that has ever been able to reach the
// device and ranks them for connection attempts.
//
// Ranking policy: candidates outside their failure cooldown are ordered by
// signal strength, strongest first. Candidates still cooling down follow,
// least-recently-failed first, so the registry always yields a full
// ordering and never refuses to try.
type Registry struct {
	mu       sync.Mutex
	records  map[string]*candidateRecord
	cooldown time.Duration
	now      func() time.Time
}

// NewRegistry creates an empty registry with the standard cooldown window.
func NewRegistry() *Registry {
	return &Registry{
		records:  make(map[string]*candidateRecord),
		cooldown: adapterCooldown,
		now:      time.Now,
	}
}

// Observe records a candidate sighting, refreshing signal strength and
// last-seen time. New adapters start with a clean failure history.
func (r *Registry) Observe(c Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[c.ID]
	if !ok {
		r.records[c.ID] = &candidateRecord{candidate: c}
		return
	}
	rec.candidate.RSSI = c.RSSI
	rec.candidate.Address = c.Address
	rec.candidate.LastSeen = c.LastSeen
}

// MarkFailure records a failed connection attempt, starting the cooldown.
func (r *Registry) MarkFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.lastFailure = r.now()
		rec.failures++
	}
}

// MarkSuccess records a successful connection, clearing the cooldown.
func (r *Registry) MarkSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.lastFailure = time.Time{}
		rec.successes++
	}
}

// Rank returns every known candidate in attempt order.
func (r *Registry) Rank() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var fresh, cooling []*candidateRecord
	for _, rec := range r.records {
		if rec.lastFailure.IsZero() || now.Sub(rec.lastFailure) >= r.cooldown {
			fresh = append(fresh, rec)
		} else {
			cooling = append(cooling, rec)
		}
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].candidate.RSSI != fresh[j].candidate.RSSI {
			return fresh[i].candidate.RSSI > fresh[j].candidate.RSSI
		}
		return fresh[i].candidate.ID < fresh[j].candidate.ID
	})
	sort.Slice(cooling, func(i, j int) bool {
		return cooling[i].lastFailure.Before(cooling[j].lastFailure)
	})

	ranked := make([]Candidate, 0, len(fresh)+len(cooling))
	for _, rec := range fresh {
		ranked = append(ranked, rec.candidate)
	}
	for _, rec := range cooling {
		ranked = append(ranked, rec.candidate)
	}
	return ranked
}

// Size returns the number of known candidates.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
