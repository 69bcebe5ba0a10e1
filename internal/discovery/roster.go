package discovery

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

// AgentEntry summarizes the discoveries one agent has reported.
type AgentEntry struct {
	AgentID     string    `json:"agent_id"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	LastProject string    `json:"last_project,omitempty"`
	Accepted    int64     `json:"accepted"`
	Rejected    int64     `json:"rejected"`
	Failed      int64     `json:"failed"`
	IdleSecs    float64   `json:"idle_secs"`
}

// Roster tracks which agents report discoveries and how many were
// accepted. Agents idle for longer than the eviction threshold are dropped
// by the sweeper.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]*agentState
	now    func() time.Time

	stop chan struct{}
	done chan struct{}
}

type agentState struct {
	firstSeen   time.Time
	lastSeen    time.Time
	lastProject string
	accepted    int64
	rejected    int64
	failed      int64
}

// Outcome classifies how a discovery request ended.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	// OutcomeRejected covers requests the graph refused, such as cycles and
	// duplicates. Resending them cannot succeed.
	OutcomeRejected
	// OutcomeFailed covers requests that could not be applied because the
	// store was unavailable, after retries ran out.
	OutcomeFailed
)

// OutcomeOf maps an AddEdge result to an Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAccepted
	case model.Retryable(err):
		return OutcomeFailed
	default:
		return OutcomeRejected
	}
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{
		agents: make(map[string]*agentState),
		now:    time.Now,
	}
}

// Record notes one discovery by agentID. Requests without an agent id are
// not tracked.
func (r *Roster) Record(agentID, projectID string, outcome Outcome) {
	if agentID == "" {
		return
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.agents[agentID]
	if !ok {
		st = &agentState{firstSeen: now}
		r.agents[agentID] = st
	}
	st.lastSeen = now
	if projectID != "" {
		st.lastProject = projectID
	}
	switch outcome {
	case OutcomeAccepted:
		st.accepted++
	case OutcomeFailed:
		st.failed++
	default:
		st.rejected++
	}
}

// Entries returns the tracked agents, most recently active first. Agents
// idle for longer than stale are skipped; pass 0 to include everyone.
func (r *Roster) Entries(stale time.Duration) []AgentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	entries := make([]AgentEntry, 0, len(r.agents))
	for id, st := range r.agents {
		idle := now.Sub(st.lastSeen)
		if stale > 0 && idle > stale {
			continue
		}
		entries = append(entries, AgentEntry{
			AgentID:     id,
			FirstSeen:   st.firstSeen,
			LastSeen:    st.lastSeen,
			LastProject: st.lastProject,
			Accepted:    st.accepted,
			Rejected:    st.rejected,
			Failed:      st.failed,
			IdleSecs:    idle.Seconds(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].AgentID < entries[j].AgentID
		}
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// StartSweeper evicts agents idle for longer than evictAfter, checking
// every interval. Call Stop to shut it down.
func (r *Roster) StartSweeper(evictAfter, interval time.Duration) {
	if evictAfter <= 0 {
		evictAfter = time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep(evictAfter)
			}
		}
	}()
}

// Stop shuts down the sweeper goroutine.
func (r *Roster) Stop() {
	if r.stop != nil {
		close(r.stop)
		<-r.done
		r.stop = nil
		r.done = nil
	}
}

func (r *Roster) sweep(evictAfter time.Duration) {
	now := r.now()
	var evicted []string

	r.mu.Lock()
	for id, st := range r.agents {
		if now.Sub(st.lastSeen) > evictAfter {
			delete(r.agents, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		slog.Info("discovery: evicted idle agent", "agent_id", id, "threshold", evictAfter)
	}
}
