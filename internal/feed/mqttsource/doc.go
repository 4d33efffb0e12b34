// Package mqttsource adapts an out-of-process detector to the feed
// interfaces. The detector publishes one JSON message per analysed frame:
//
//	{
//	  "seq": 812,
//	  "width": 640, "height": 480,
//	  "timestamp": "2026-03-01T09:00:00Z",
//	  "detections": [{"class": "person", "confidence": 0.91, "bbox": [10, 20, 110, 220]}]
//	}
//
// Source turns these into frames, and Detector hands the carried
// detections to the worker unchanged.
package mqttsource
