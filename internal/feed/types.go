package feed

import (
	"context"
	"time"

	"github.com/sarontebebe7/presencelight/internal/detection"
)

// Frame is one image read from a video source. Data is opaque to the
// engine; only the dimensions feed into scoring.
type Frame struct {
	Seq        uint64
	Width      int
	Height     int
	CapturedAt time.Time
	Data       any
}

// Area returns the frame area in square pixels.
func (f Frame) Area() int {
	return f.Width * f.Height
}

// SourceStats describes a video source as it reports itself.
type SourceStats struct {
	Width      int
	Height     int
	FPS        float64
	FramesRead uint64
	Connected  bool
}

// VideoSource produces frames for one feed.
type VideoSource interface {
	Connect(ctx context.Context) error
	ReadFrame(ctx context.Context) (Frame, error)
	Reconnect(ctx context.Context) error
	Disconnect() error
	Stats() SourceStats
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]detection.Detection, error)
}

// Stats are the per-feed worker counters.
type Stats struct {
	FramesRead          uint64  `json:"frames_read"`
	FramesProcessed     uint64  `json:"frames_processed"`
	FPS                 float64 `json:"fps"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
	ReadErrors          uint64  `json:"read_errors"`
	DetectErrors        uint64  `json:"detect_errors"`
	LastError           string  `json:"last_error,omitempty"`
}

// Snapshot is the latest published result of one feed. A snapshot is
// never modified after it has been published; readers may hold on to it.
type Snapshot struct {
	FeedID   string
	Frame    Frame
	HasFrame bool

	// AllDetections is everything the detector returned. Triggering[i]
	// is true when AllDetections[i] passed the filter rules.
	AllDetections      []detection.Detection
	Triggering         []bool
	FilteredDetections []detection.Detection

	// DetectedWidth and DetectedHeight are the size of the frame the
	// detections were made on, which differs from Frame when a skipped
	// frame carries the previous result.
	DetectedWidth  int
	DetectedHeight int

	Stats     Stats
	UpdatedAt time.Time

	// Stale is set when the last read failed. Stale snapshots carry no
	// detections.
	Stale bool
}

// DetectionArea returns the area the detection boxes are relative to.
// It falls back to the current frame when no detected size was recorded.
func (s *Snapshot) DetectionArea() int {
	if s.DetectedWidth > 0 && s.DetectedHeight > 0 {
		return s.DetectedWidth * s.DetectedHeight
	}
	return s.Frame.Area()
}

// PeopleCount returns the number of triggering detections.
func (s *Snapshot) PeopleCount() int {
	if s == nil {
		return 0
	}
	return len(s.FilteredDetections)
}
