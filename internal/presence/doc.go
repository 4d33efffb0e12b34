// Package presence merges the per-feed snapshots into one presence
// signal. Presence is the OR across feeds; the score is computed once
// over the union of every feed's triggering detections.
package presence
