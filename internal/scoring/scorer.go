// Package scoring computes the similarity between two stored feature
// records. The score is a policy-defined heuristic, not a probability: it
// combines coarse attribute proximity with landmark geometry and accepts a
// bounded false-accept/false-reject tradeoff at the match threshold.
package scoring

import (
	"math"

	"github.com/example/face-verify/internal/template"
)

const (
	ageWeight      = 1.0
	landmarkWeight = 1.0
)

// Scorer weighs the available similarity signals. All constants come from
// configuration; the values are load-bearing for match behavior and must
// not be changed casually.
type Scorer struct {
	ageDivisor      float64
	landmarkDivisor float64
	genderBonus     float64
	matchThreshold  float64
}

// NewScorer builds a scorer from the policy constants.
func NewScorer(ageDivisor, landmarkDivisor, genderBonus, matchThreshold float64) *Scorer {
	return &Scorer{
		ageDivisor:      ageDivisor,
		landmarkDivisor: landmarkDivisor,
		genderBonus:     genderBonus,
		matchThreshold:  matchThreshold,
	}
}

// Score returns a 0-1 similarity between two feature records as a weighted
// average over the signals both records can provide:
//
//   - age proximity, max(0, 1-|Δage|/ageDivisor), weight 1
//   - gender agreement (1 if the coarse estimates agree, 0 otherwise),
//     weight genderBonus, counted whenever both sides carry an estimate
//   - landmark geometry, the mean over corresponding primary points of
//     max(0, 1-dist/landmarkDivisor), weight 1
//
// Signals missing on either side are excluded from numerator and
// denominator; with no signal at all the score is 0.
func (s *Scorer) Score(a, b template.FeatureRecord) float64 {
	var total, weights float64

	if a.Attributes.Age > 0 && b.Attributes.Age > 0 {
		diff := math.Abs(a.Attributes.Age - b.Attributes.Age)
		total += ageWeight * math.Max(0, 1-diff/s.ageDivisor)
		weights += ageWeight
	}

	if a.Attributes.Gender.Value != "" && b.Attributes.Gender.Value != "" {
		if a.Attributes.Gender.Value == b.Attributes.Gender.Value {
			total += s.genderBonus
		}
		weights += s.genderBonus
	}

	if sim, ok := s.landmarkSimilarity(a, b); ok {
		total += landmarkWeight * sim
		weights += landmarkWeight
	}

	if weights == 0 {
		return 0
	}
	return total / weights
}

// IsMatch applies the strictly-greater-than decision rule: a score exactly
// at the threshold does not match.
func (s *Scorer) IsMatch(score float64) bool {
	return score > s.matchThreshold
}

// landmarkSimilarity averages per-point similarity across the primary
// landmark sequences, truncated to the shorter of the two.
func (s *Scorer) landmarkSimilarity(a, b template.FeatureRecord) (float64, bool) {
	count := len(a.Landmarks)
	if len(b.Landmarks) < count {
		count = len(b.Landmarks)
	}
	if count == 0 {
		return 0, false
	}

	var sum float64
	for i := 0; i < count; i++ {
		dx := a.Landmarks[i].X - b.Landmarks[i].X
		dy := a.Landmarks[i].Y - b.Landmarks[i].Y
		dist := math.Sqrt(dx*dx + dy*dy)
		sum += math.Max(0, 1-dist/s.landmarkDivisor)
	}
	return sum / float64(count), true
}
