package mqtt

import "fmt"

// TopicRoot is the first level of every presencelight topic.
const TopicRoot = "presencelight"

// Topics builds the topic hierarchy for one site:
//
//	presencelight/{site}/system/status          retained online/offline
//	presencelight/{site}/core/status            retained engine status
//	presencelight/{site}/core/event/{type}      engine events
//	presencelight/{site}/feed/{feed}/detections per-frame detector output
//	presencelight/{site}/light/set              light commands
type Topics struct {
	site string
}

// NewTopics returns a builder scoped to siteID.
func NewTopics(siteID string) Topics {
	return Topics{site: siteID}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicRoot, t.site)
}

// SystemStatus returns the connection status topic used by the LWT.
func (t Topics) SystemStatus() string {
	return t.base() + "/system/status"
}

// CoreStatus returns the engine status topic.
func (t Topics) CoreStatus() string {
	return t.base() + "/core/status"
}

// CoreEvent returns the topic for engine events of the given type.
//
// Example: presencelight/room-001/core/event/light_changed
func (t Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/core/event/%s", t.base(), eventType)
}

// FeedDetections returns the topic a detector publishes frame results on.
func (t Topics) FeedDetections(feedID string) string {
	return fmt.Sprintf("%s/feed/%s/detections", t.base(), feedID)
}

// LightCommand returns the default light command topic.
func (t Topics) LightCommand() string {
	return t.base() + "/light/set"
}
