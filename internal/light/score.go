package light

import (
	"math"

	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
	"github.com/sarontebebe7/presencelight/internal/presence"
)

// fallbackWeight applies when neither the class nor "default" has a weight.
const fallbackWeight = 0.1

// ScoreModel maps observations to a presence score and a score to a
// brightness percentage.
type ScoreModel struct {
	Threshold     float64
	Ceiling       float64
	MinBrightness int
	MaxBrightness int
	Weights       map[string]float64
}

// ScoreModelFromConfig builds the model from the lighting config section.
func ScoreModelFromConfig(cfg config.LightingConfig) ScoreModel {
	return ScoreModel{
		Threshold:     cfg.ScoreThreshold,
		Ceiling:       cfg.ScoreCeiling,
		MinBrightness: cfg.MinBrightness,
		MaxBrightness: cfg.MaxBrightness,
		Weights:       cfg.ClassWeights,
	}
}

// Weight returns the weight for a detection class.
func (m ScoreModel) Weight(class string) float64 {
	if w, ok := m.Weights[class]; ok {
		return w
	}
	if w, ok := m.Weights["default"]; ok {
		return w
	}
	return fallbackWeight
}

// Score sums confidence * (box area / frame area) * class weight.
// Observations from frames with no area contribute nothing.
func (m ScoreModel) Score(obs []presence.Observation) float64 {
	var score float64
	for _, o := range obs {
		if o.FrameArea <= 0 {
			continue
		}
		ratio := float64(o.Detection.Area()) / float64(o.FrameArea)
		score += o.Detection.Confidence * ratio * m.Weight(o.Detection.ClassName)
	}
	return score
}

// Brightness maps a score to a percentage. Scores below the threshold give
// 0; a score equal to the threshold gives MinBrightness; scores at or
// above the ceiling give MaxBrightness.
func (m ScoreModel) Brightness(score float64) int {
	if score < m.Threshold {
		return 0
	}

	normalized := 1.0
	if span := m.Ceiling - m.Threshold; span > 0 {
		normalized = math.Min(math.Max((score-m.Threshold)/span, 0), 1)
	}

	b := float64(m.MinBrightness) + normalized*float64(m.MaxBrightness-m.MinBrightness)
	return clampBrightness(int(math.Round(b)))
}
