// Package synth merges weighted, confidence-scored context sources into a
// single context object consumed when a task's prompt is rendered.
//
// Synthesize is a pure function over its inputs so it is independently
// testable; confidence heuristics for recency and completeness are provided
// as helpers that callers apply before synthesis.
package synth

import (
	"math"
	"time"
)

// Source is one contributor of context facets. Confidence and Weight are in
// [0,1]; a source whose confidence falls below its own Threshold is
// discarded entirely rather than diluting the result.
type Source struct {
	Name       string
	Weight     float64
	Threshold  float64
	Confidence float64
	Facets     map[string]string
}

// Facet is one named piece of merged context, tagged with the source that
// supplied it.
type Facet struct {
	Value      string  `json:"value"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// ContextObject is the result of a synthesis call. It is ephemeral: embedded
// into the rendered prompt and never persisted on its own.
type ContextObject struct {
	Facets            map[string]Facet   `json:"facets"`
	OverallConfidence float64            `json:"overall_confidence"`
	SourcesUsed       []string           `json:"sources_used"`
	Contributions     map[string]float64 `json:"contributions"`
	Collisions        map[string]string  `json:"collisions,omitempty"`
}

// Synthesize merges the given sources. Sources below their threshold are
// discarded; the overall confidence is the weight-normalized average over
// the survivors (0 when none survive, never NaN). Facet key collisions are
// resolved by the higher weight*confidence product, and the winning source
// is recorded for auditability.
func Synthesize(sources []Source) ContextObject {
	obj := ContextObject{
		Facets:        make(map[string]Facet),
		SourcesUsed:   []string{},
		Contributions: make(map[string]float64),
		Collisions:    make(map[string]string),
	}

	var weightSum, weightedConfidence float64
	for _, src := range sources {
		confidence := clamp01(src.Confidence)
		if confidence < src.Threshold {
			continue
		}

		obj.SourcesUsed = append(obj.SourcesUsed, src.Name)
		score := src.Weight * confidence
		obj.Contributions[src.Name] = score
		weightSum += src.Weight
		weightedConfidence += score

		for key, value := range src.Facets {
			existing, taken := obj.Facets[key]
			if taken {
				if existing.Weight*existing.Confidence >= score {
					obj.Collisions[key] = existing.Source
					continue
				}
				obj.Collisions[key] = src.Name
			}
			obj.Facets[key] = Facet{
				Value:      value,
				Source:     src.Name,
				Confidence: confidence,
				Weight:     src.Weight,
			}
		}
	}

	if weightSum > 0 {
		obj.OverallConfidence = weightedConfidence / weightSum
	}
	return obj
}

// RecencyConfidence scores a source by the age of its data: 1 at age zero,
// halving every halfLife. Non-positive half-lives score 0.
func RecencyConfidence(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 0
	}
	if age <= 0 {
		return 1
	}
	return clamp01(math.Exp2(-float64(age) / float64(halfLife)))
}

// CompletenessConfidence scores a source by how many of its expected facets
// are actually filled in.
func CompletenessConfidence(filled, expected int) float64 {
	if expected <= 0 || filled <= 0 {
		return 0
	}
	return clamp01(float64(filled) / float64(expected))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
