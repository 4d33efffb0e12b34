package presence

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarontebebe7/presencelight/internal/detection"
	"github.com/sarontebebe7/presencelight/internal/feed"
)

// Observation is one triggering detection together with the area of the
// frame it was found in.
type Observation struct {
	FeedID    string
	Detection detection.Detection
	FrameArea int
}

// Scorer turns observations into a presence score.
type Scorer interface {
	Score(obs []Observation) float64
}

// Signal is the aggregated presence across all feeds at one instant.
type Signal struct {
	AnyPresent    bool
	TotalCount    int
	PerFeedCounts map[string]int
	Score         float64
	Observations  []Observation

	// StaleFeeds lists feeds whose last read failed.
	StaleFeeds []string
	At         time.Time
}

// SnapshotSource is a feed whose latest snapshot can be loaded.
// *feed.Store implements it.
type SnapshotSource interface {
	ID() string
	Load() *feed.Snapshot
}

// Aggregator combines the latest snapshots of every registered feed.
// Aggregate never blocks on a worker: it only loads published pointers.
type Aggregator struct {
	scorer Scorer
	now    func() time.Time

	// sources is replaced wholesale on every change.
	sources atomic.Pointer[[]SnapshotSource]
	regMu   sync.Mutex
}

// NewAggregator creates an aggregator scoring with scorer.
func NewAggregator(scorer Scorer) *Aggregator {
	a := &Aggregator{scorer: scorer, now: time.Now}
	empty := []SnapshotSource{}
	a.sources.Store(&empty)
	return a
}

// Register adds a source, replacing any source with the same ID.
func (a *Aggregator) Register(src SnapshotSource) {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	old := *a.sources.Load()
	next := make([]SnapshotSource, 0, len(old)+1)
	for _, s := range old {
		if s.ID() != src.ID() {
			next = append(next, s)
		}
	}
	next = append(next, src)
	a.sources.Store(&next)
}

// Unregister removes the source with the given ID. It reports whether a
// source was removed.
func (a *Aggregator) Unregister(feedID string) bool {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	old := *a.sources.Load()
	next := make([]SnapshotSource, 0, len(old))
	for _, s := range old {
		if s.ID() != feedID {
			next = append(next, s)
		}
	}
	if len(next) == len(old) {
		return false
	}
	a.sources.Store(&next)
	return true
}

// FeedIDs returns the registered feed IDs, sorted.
func (a *Aggregator) FeedIDs() []string {
	sources := *a.sources.Load()
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID())
	}
	sort.Strings(ids)
	return ids
}

// Aggregate reads every feed once and returns the combined signal. Feeds
// that have not published yet count as absent.
func (a *Aggregator) Aggregate() Signal {
	sources := *a.sources.Load()

	sig := Signal{
		PerFeedCounts: make(map[string]int, len(sources)),
		At:            a.now(),
	}

	for _, src := range sources {
		snap := src.Load()
		if snap == nil {
			sig.PerFeedCounts[src.ID()] = 0
			continue
		}
		if snap.Stale {
			sig.StaleFeeds = append(sig.StaleFeeds, src.ID())
		}

		n := len(snap.FilteredDetections)
		sig.PerFeedCounts[src.ID()] = n
		sig.TotalCount += n
		if n > 0 {
			sig.AnyPresent = true
		}

		area := snap.DetectionArea()
		for _, d := range snap.FilteredDetections {
			sig.Observations = append(sig.Observations, Observation{
				FeedID:    src.ID(),
				Detection: d,
				FrameArea: area,
			})
		}
	}

	if a.scorer != nil {
		sig.Score = a.scorer.Score(sig.Observations)
	}
	return sig
}
