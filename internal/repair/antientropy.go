package repair

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"catalogkv/internal/storage"
)

// ErrPeerUnreachable marks every failure to obtain a peer snapshot:
// connection errors, timeouts and malformed responses alike.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Fetcher retrieves the full current key set of a peer.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, peerAddr string) (map[string]storage.Record, error)
}

// Observer receives the outcome of each peer fetch and sweep.
type Observer interface {
	PeerFetched(peer string, merged int, took time.Duration)
	PeerFailed(peer string, err error)
	SweepDone(merged int)
}

// SweepResult summarizes one pass over the peer list.
type SweepResult struct {
	Merged int
	Failed []string
}

// Puller performs anti-entropy pulls against a fixed, ordered peer list.
type Puller struct {
	nodeID      string
	peers       []string
	fetcher     Fetcher
	merger      *Merger
	timeout     time.Duration
	parallelism int
	observer    Observer

	// Background loop control
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPuller creates a puller. The peer order is kept as given.
func NewPuller(nodeID string, peers []string, fetcher Fetcher, merger *Merger, timeout time.Duration) *Puller {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Puller{
		nodeID:      nodeID,
		peers:       append([]string(nil), peers...),
		fetcher:     fetcher,
		merger:      merger,
		timeout:     timeout,
		parallelism: 1,
	}
}

// SetParallelism sets how many peer fetches may run at once. Values below
// one mean sequential fetching.
func (p *Puller) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	p.parallelism = n
}

// SetObserver installs a sweep observer. Must be called before use.
func (p *Puller) SetObserver(o Observer) {
	p.observer = o
}

// Peers returns the configured peer list.
func (p *Puller) Peers() []string {
	return append([]string(nil), p.peers...)
}

// PullFrom fetches peer's snapshot and merges every entry. The fetch is
// bounded by the puller timeout only; no caller cancellation reaches it.
func (p *Puller) PullFrom(peer string) (int, error) {
	start := time.Now()
	snapshot, err := p.fetch(peer)
	if err != nil {
		p.peerFailed(peer, err)
		return 0, err
	}
	merged := p.merger.MergeSnapshot(snapshot)
	if p.observer != nil {
		p.observer.PeerFetched(peer, merged, time.Since(start))
	}
	return merged, nil
}

// PullAll pulls from every peer in order and sums the merges. A failing
// peer is logged and skipped; the sweep always visits every peer once.
func (p *Puller) PullAll() SweepResult {
	var result SweepResult
	if p.parallelism > 1 && len(p.peers) > 1 {
		result = p.pullConcurrently()
	} else {
		for _, peer := range p.peers {
			merged, err := p.PullFrom(peer)
			if err != nil {
				result.Failed = append(result.Failed, peer)
				continue
			}
			result.Merged += merged
		}
	}

	if result.Merged > 0 {
		log.Printf("[%s] Sync merged=%d", p.nodeID, result.Merged)
	}
	if p.observer != nil {
		p.observer.SweepDone(result.Merged)
	}
	return result
}

// pullConcurrently fetches all peers in parallel and then merges the
// snapshots in peer-list order, so the outcome matches a sequential sweep.
func (p *Puller) pullConcurrently() SweepResult {
	type fetched struct {
		snapshot map[string]storage.Record
		err      error
		took     time.Duration
	}
	results := make([]fetched, len(p.peers))

	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for i, peer := range p.peers {
		i, peer := i, peer
		g.Go(func() error {
			start := time.Now()
			snapshot, err := p.fetch(peer)
			results[i] = fetched{snapshot: snapshot, err: err, took: time.Since(start)}
			// Never fail the group: one unreachable peer must not cancel the rest.
			return nil
		})
	}
	_ = g.Wait()

	var result SweepResult
	for i, peer := range p.peers {
		r := results[i]
		if r.err != nil {
			p.peerFailed(peer, r.err)
			result.Failed = append(result.Failed, peer)
			continue
		}
		merged := p.merger.MergeSnapshot(r.snapshot)
		if p.observer != nil {
			p.observer.PeerFetched(peer, merged, r.took)
		}
		result.Merged += merged
	}
	return result
}

func (p *Puller) fetch(peer string) (map[string]storage.Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	snapshot, err := p.fetcher.FetchSnapshot(ctx, peer)
	if err != nil {
		if !errors.Is(err, ErrPeerUnreachable) {
			err = errors.Mark(err, ErrPeerUnreachable)
		}
		return nil, errors.Wrapf(err, "fetching snapshot from %s", peer)
	}
	return snapshot, nil
}

func (p *Puller) peerFailed(peer string, err error) {
	log.Printf("[%s] Sync with %s failed: %v", p.nodeID, peer, err)
	if p.observer != nil {
		p.observer.PeerFailed(peer, err)
	}
}

// Start runs PullAll every interval until Stop is called. A non-positive
// interval or an empty peer list leaves the loop disabled.
func (p *Puller) Start(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || interval <= 0 || len(p.peers) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PullAll()
			}
		}
	}()
	log.Printf("[%s] Started anti-entropy loop every %s over %d peers", p.nodeID, interval, len(p.peers))
}

// Stop stops the background loop and waits for an in-flight sweep.
func (p *Puller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}
