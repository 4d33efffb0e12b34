package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementPresence = "presence"
	measurementFeed     = "feed_presence"
	measurementLight    = "light"
	measurementFeedRate = "feed_stats"
)

// WritePresence records one aggregated presence sample: the overall count
// and score, plus one point per feed with its own count.
func (c *Client) WritePresence(perFeed map[string]int, total int, score float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	for _, p := range presencePoints(c.site, perFeed, total, score, at) {
		c.writeAPI.WritePoint(p)
	}
}

// WriteLight records a light command.
func (c *Client) WriteLight(brightness int, state, source string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lightPoint(c.site, brightness, state, source, at))
}

// WriteFeedStats records processing throughput for one feed.
func (c *Client) WriteFeedStats(feedID string, fps, avgProcessingMS float64, framesProcessed uint64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		measurementFeedRate,
		map[string]string{"site": c.site, "feed_id": feedID},
		map[string]any{
			"fps":                    fps,
			"avg_processing_time_ms": avgProcessingMS,
			"frames_processed":       framesProcessed,
		},
		at,
	))
}

func presencePoints(site string, perFeed map[string]int, total int, score float64, at time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(perFeed)+1)
	points = append(points, write.NewPoint(
		measurementPresence,
		map[string]string{"site": site},
		map[string]any{
			"people":  total,
			"score":   score,
			"present": total > 0,
		},
		at,
	))
	for feedID, count := range perFeed {
		points = append(points, write.NewPoint(
			measurementFeed,
			map[string]string{"site": site, "feed_id": feedID},
			map[string]any{"people": count},
			at,
		))
	}
	return points
}

func lightPoint(site string, brightness int, state, source string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementLight,
		map[string]string{"site": site, "source": source},
		map[string]any{
			"brightness": brightness,
			"state":      state,
		},
		at,
	)
}
