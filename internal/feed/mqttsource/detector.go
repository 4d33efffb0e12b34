package mqttsource

import (
	"context"
	"fmt"

	"github.com/sarontebebe7/presencelight/internal/detection"
	"github.com/sarontebebe7/presencelight/internal/feed"
)

// Detector returns the detections that arrived with a Source frame.
// Detection already happened in the publishing process.
type Detector struct{}

// Detect implements feed.Detector.
func (Detector) Detect(_ context.Context, frame feed.Frame) ([]detection.Detection, error) {
	if frame.Data == nil {
		return nil, nil
	}
	dets, ok := frame.Data.([]detection.Detection)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedFrame, frame.Data)
	}
	return dets, nil
}
