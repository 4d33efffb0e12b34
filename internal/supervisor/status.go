package supervisor

import (
	"math"
	"sort"
)

// FeedStatus is the per-feed part of Status.
type FeedStatus struct {
	Name                string  `json:"name,omitempty"`
	FramesRead          uint64  `json:"frames_read"`
	FramesProcessed     uint64  `json:"frames_processed"`
	FPS                 float64 `json:"fps"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
	PeopleCount         int     `json:"people_count"`
	TotalObjects        int     `json:"total_objects"`
	Stale               bool    `json:"stale"`
	Connected           bool    `json:"connected"`
	LastError           string  `json:"last_error,omitempty"`
}

// LightStatus is the light part of Status.
type LightStatus struct {
	Brightness int    `json:"brightness"`
	On         bool   `json:"on"`
	State      string `json:"state"`
	Mode       string `json:"mode"`
	LastError  string `json:"last_error,omitempty"`
}

// Status is a point-in-time view of the whole engine.
type Status struct {
	Running       bool                  `json:"running"`
	Paused        bool                  `json:"paused"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	PeopleCount   int                   `json:"people_count"`
	TotalObjects  int                   `json:"total_objects"`
	Score         float64               `json:"score"`
	Feeds         []string              `json:"feeds"`
	PerFeed       map[string]FeedStatus `json:"per_feed"`
	Light         LightStatus           `json:"light"`
	ActiveFeed    string                `json:"active_feed"`
	RecentEvents  []Event               `json:"recent_events"`
}

// Status never blocks on a feed or on a pending light command.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := Status{
		Running:    s.running,
		ActiveFeed: s.activeFeed,
		PerFeed:    make(map[string]FeedStatus, len(s.feeds)),
		Score:      s.lastSignal.Score,
	}
	if s.running {
		st.Paused = s.gate.Paused()
		st.UptimeSeconds = math.Round(s.now().Sub(s.startedAt).Seconds()*10) / 10
	}
	for _, c := range s.feedCfgs {
		st.Feeds = append(st.Feeds, c.ID)
	}
	for id, rt := range s.feeds {
		fs := FeedStatus{Name: rt.cfg.Name}
		stats := rt.worker.Stats()
		fs.FramesRead = stats.FramesRead
		fs.FramesProcessed = stats.FramesProcessed
		fs.FPS = math.Round(stats.FPS*10) / 10
		fs.AvgProcessingTimeMS = math.Round(stats.AvgProcessingTimeMS*10) / 10
		fs.LastError = stats.LastError
		fs.Connected = rt.spec.Source.Stats().Connected

		if snap := rt.store.Load(); snap != nil {
			fs.PeopleCount = snap.PeopleCount()
			fs.TotalObjects = len(snap.AllDetections)
			fs.Stale = snap.Stale
		}
		st.PeopleCount += fs.PeopleCount
		st.TotalObjects += fs.TotalObjects
		st.PerFeed[id] = fs
	}
	s.mu.RUnlock()

	sort.Strings(st.Feeds)

	es := s.engine.Status()
	st.Light = LightStatus{
		Brightness: es.Brightness,
		On:         es.On(),
		State:      es.State.String(),
		Mode:       s.engine.Mode(),
		LastError:  es.LastError,
	}
	st.RecentEvents = s.recent.last(s.config.StatusEvents)
	return st
}

// RecentEvents returns up to n of the newest events, oldest first. n <= 0
// returns everything kept.
func (s *Supervisor) RecentEvents(n int) []Event {
	return s.recent.last(n)
}
