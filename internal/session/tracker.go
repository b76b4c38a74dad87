package session

import (
	"log"
	"sort"
	"sync"

	"catalogkv/internal/repair"
)

// DefaultRetryBound is the number of sweeps attempted per lagging key.
const DefaultRetryBound = 2

// Token maps key to the minimum version a session may observe.
// Missing keys have floor 0.
type Token map[string]uint64

// Copy returns an independent copy of the token.
func (t Token) Copy() Token {
	out := make(Token, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// VersionSource reports the version of a key held by the local replica.
type VersionSource interface {
	CurrentVersion(key string) uint64
}

// Syncer runs one anti-entropy sweep over all peers.
type Syncer interface {
	PullAll() repair.SweepResult
}

// Guarantee describes how a consistency check ended.
type Guarantee struct {
	// Satisfied is false when the retry bound ran out before the replica
	// caught up; the operation then proceeds against stale local state.
	Satisfied bool
	// Sweeps is the number of anti-entropy sweeps triggered.
	Sweeps int
	// Lagging holds, for unsatisfied keys, the version that was required.
	Lagging map[string]uint64
}

// Tracker owns the session table of one node.
type Tracker struct {
	nodeID     string
	versions   VersionSource
	syncer     Syncer
	retryBound int

	mu     sync.Mutex
	tokens map[string]Token
}

// NewTracker creates a tracker. A negative retryBound falls back to
// DefaultRetryBound; zero disables on-demand sweeps.
func NewTracker(nodeID string, versions VersionSource, syncer Syncer, retryBound int) *Tracker {
	if retryBound < 0 {
		retryBound = DefaultRetryBound
	}
	return &Tracker{
		nodeID:     nodeID,
		versions:   versions,
		syncer:     syncer,
		retryBound: retryBound,
		tokens:     make(map[string]Token),
	}
}

// EnsureToken returns a copy of the session's token, creating an empty one
// on first use.
func (t *Tracker) EnsureToken(sessionID string) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureLocked(sessionID).Copy()
}

func (t *Tracker) ensureLocked(sessionID string) Token {
	tok, exists := t.tokens[sessionID]
	if !exists {
		tok = make(Token)
		t.tokens[sessionID] = tok
		log.Printf("[%s] New session: %s", t.nodeID, sessionID)
	}
	return tok
}

// Token returns a copy of the token of a known session.
func (t *Tracker) Token(sessionID string) (Token, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tok, exists := t.tokens[sessionID]
	if !exists {
		return nil, false
	}
	return tok.Copy(), true
}

// Sessions returns the ids of all known sessions, sorted.
func (t *Tracker) Sessions() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.tokens))
	for id := range t.tokens {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Observe raises token[key] to version. Lower versions are ignored.
func (t *Tracker) Observe(sessionID, key string, version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tok := t.ensureLocked(sessionID)
	if version > tok[key] {
		tok[key] = version
	}
}

func (t *Tracker) required(sessionID, key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureLocked(sessionID)[key]
}

// catchUp sweeps until key reaches needed or the bound is hit. The
// session lock is not held across sweeps.
func (t *Tracker) catchUp(key string, needed uint64) (reached bool, sweeps int) {
	for t.versions.CurrentVersion(key) < needed && sweeps < t.retryBound {
		t.syncer.PullAll()
		sweeps++
	}
	return t.versions.CurrentVersion(key) >= needed, sweeps
}

// GuaranteeRead makes a best effort to bring key up to the session's
// entitlement, then records the locally current version in the token.
func (t *Tracker) GuaranteeRead(sessionID, key string) Guarantee {
	needed := t.required(sessionID, key)
	reached, sweeps := t.catchUp(key, needed)

	t.Observe(sessionID, key, t.versions.CurrentVersion(key))

	g := Guarantee{Satisfied: reached, Sweeps: sweeps}
	if !reached {
		g.Lagging = map[string]uint64{key: needed}
		log.Printf("[%s] Session %s read of %s degraded: need v%d after %d sweeps",
			t.nodeID, sessionID, key, needed, sweeps)
	}
	return g
}

// GuaranteeWrite makes a best effort to bring every key already in the
// session's token up to its recorded version before key is written.
func (t *Tracker) GuaranteeWrite(sessionID, key string) Guarantee {
	deps := t.EnsureToken(sessionID)

	depKeys := make([]string, 0, len(deps))
	for k := range deps {
		depKeys = append(depKeys, k)
	}
	sort.Strings(depKeys)

	g := Guarantee{Satisfied: true}
	for _, dep := range depKeys {
		reached, sweeps := t.catchUp(dep, deps[dep])
		g.Sweeps += sweeps
		if !reached {
			g.Satisfied = false
			if g.Lagging == nil {
				g.Lagging = make(map[string]uint64)
			}
			g.Lagging[dep] = deps[dep]
		}
	}
	if !g.Satisfied {
		log.Printf("[%s] Session %s write of %s degraded: %d dependencies behind after %d sweeps",
			t.nodeID, sessionID, key, len(g.Lagging), g.Sweeps)
	}
	return g
}
