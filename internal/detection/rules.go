package detection

import (
	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
)

// Rules decide which detections count as triggering.
//
// A detection triggers when, in order:
//  1. its confidence is at least MinConfidence
//  2. its class is not in Ignore
//  3. Target is empty or contains its class
//  4. its area lies in [MinSize, MaxSize] (MaxSize 0 means unbounded)
type Rules struct {
	MinConfidence float64
	Target        map[string]bool
	Ignore        map[string]bool
	MinSize       int
	MaxSize       int
}

// RulesFromConfig converts the detection config section to Rules.
func RulesFromConfig(cfg config.DetectionConfig) Rules {
	return Rules{
		MinConfidence: cfg.Confidence,
		Target:        toSet(cfg.TargetClasses),
		Ignore:        toSet(cfg.IgnoreClasses),
		MinSize:       cfg.MinSize,
		MaxSize:       cfg.MaxSize,
	}
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// Triggers reports whether a single detection passes the rules.
func (r Rules) Triggers(d Detection) bool {
	if d.Confidence < r.MinConfidence {
		return false
	}
	if r.Ignore[d.ClassName] {
		return false
	}
	if len(r.Target) > 0 && !r.Target[d.ClassName] {
		return false
	}
	area := d.Area()
	if area < r.MinSize {
		return false
	}
	if r.MaxSize > 0 && area > r.MaxSize {
		return false
	}
	return true
}

// Apply filters detections. triggering[i] tags all[i]; filtered holds the
// triggering detections in their original order. Membership is decided
// by position, so identical-looking detections are tagged independently.
func (r Rules) Apply(all []Detection) (filtered []Detection, triggering []bool) {
	if len(all) == 0 {
		return nil, nil
	}
	triggering = make([]bool, len(all))
	for i, d := range all {
		if r.Triggers(d) {
			triggering[i] = true
			filtered = append(filtered, d)
		}
	}
	return filtered, triggering
}
