package scoring

import (
	"math"
	"testing"

	"github.com/example/face-verify/internal/faceprovider"
	"github.com/example/face-verify/internal/template"
)

func policyScorer() *Scorer {
	return NewScorer(50, 100, 0.1, 0.8)
}

func recordWith(age float64, gender string, landmarks []faceprovider.Point) template.FeatureRecord {
	return template.FeatureRecord{
		Attributes: faceprovider.Attributes{
			Age:    age,
			Gender: faceprovider.GenderEstimate{Value: gender},
		},
		Landmarks: landmarks,
	}
}

func TestScoreIdenticalRecords(t *testing.T) {
	scorer := policyScorer()
	record := recordWith(30, "male", []faceprovider.Point{{X: 10, Y: 10}, {X: 40, Y: 12}, {X: 25, Y: 30}, {X: 26, Y: 45}})

	score := scorer.Score(record, record)
	if score != 1.0 {
		t.Fatalf("identical records should score 1.0, got %v", score)
	}
	if !scorer.IsMatch(score) {
		t.Fatal("identical records must match")
	}
}

func TestScoreAgeProximity(t *testing.T) {
	scorer := policyScorer()
	a := recordWith(30, "", nil)
	b := recordWith(40, "", nil)

	// Only the age signal contributes: 1 - 10/50.
	score := scorer.Score(a, b)
	if math.Abs(score-0.8) > 1e-12 {
		t.Fatalf("expected age-only score 0.8, got %v", score)
	}

	far := recordWith(30, "", nil)
	farther := recordWith(95, "", nil)
	if got := scorer.Score(far, farther); got != 0 {
		t.Fatalf("age gap beyond divisor should clamp to 0, got %v", got)
	}
}

func TestScoreWeightsGenderSignal(t *testing.T) {
	scorer := policyScorer()
	landmarks := []faceprovider.Point{{X: 10, Y: 10}}

	agree := scorer.Score(recordWith(30, "female", landmarks), recordWith(40, "female", landmarks))
	// (0.8 + 0.1 + 1.0) / 2.1
	if math.Abs(agree-1.9/2.1) > 1e-12 {
		t.Fatalf("expected %v with gender agreement, got %v", 1.9/2.1, agree)
	}

	disagree := scorer.Score(recordWith(30, "female", landmarks), recordWith(40, "male", landmarks))
	// Gender still counts in the denominator on mismatch.
	if math.Abs(disagree-1.8/2.1) > 1e-12 {
		t.Fatalf("expected %v with gender mismatch, got %v", 1.8/2.1, disagree)
	}
}

func TestScoreLandmarkGeometry(t *testing.T) {
	scorer := policyScorer()
	a := recordWith(0, "", []faceprovider.Point{{X: 0, Y: 0}, {X: 100, Y: 0}})
	b := recordWith(0, "", []faceprovider.Point{{X: 30, Y: 40}, {X: 100, Y: 0}})

	// First point is 50px away (0.5), second identical (1.0).
	score := scorer.Score(a, b)
	if math.Abs(score-0.75) > 1e-12 {
		t.Fatalf("expected landmark score 0.75, got %v", score)
	}
}

func TestScoreTruncatesToShorterLandmarkSequence(t *testing.T) {
	scorer := policyScorer()
	a := recordWith(0, "", []faceprovider.Point{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 20, Y: 20}})
	b := recordWith(0, "", []faceprovider.Point{{X: 0, Y: 0}})

	if got := scorer.Score(a, b); got != 1.0 {
		t.Fatalf("expected comparison over the shared prefix only, got %v", got)
	}
}

func TestScoreNoSignals(t *testing.T) {
	scorer := policyScorer()
	if got := scorer.Score(template.FeatureRecord{}, template.FeatureRecord{}); got != 0 {
		t.Fatalf("no signals should score 0, got %v", got)
	}
}

func TestMatchThresholdIsStrict(t *testing.T) {
	scorer := policyScorer()

	// Landmark-only records: four identical points and one fully divergent
	// point give exactly (1+1+1+1+0)/5 = 0.8.
	base := []faceprovider.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}, {X: 30, Y: 0}, {X: 40, Y: 0}}
	exact := []faceprovider.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}, {X: 30, Y: 0}, {X: 40, Y: 100}}

	score := scorer.Score(recordWith(0, "", base), recordWith(0, "", exact))
	if score != 0.8 {
		t.Fatalf("expected exact boundary score 0.8, got %v", score)
	}
	if scorer.IsMatch(score) {
		t.Fatal("score exactly at the threshold must not match")
	}

	// Nudge the divergent point back inside the divisor: sims are
	// (1+1+1+1+0.04)/5, comfortably above the threshold.
	above := []faceprovider.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}, {X: 30, Y: 0}, {X: 40, Y: 96}}
	aboveScore := scorer.Score(recordWith(0, "", base), recordWith(0, "", above))
	if aboveScore <= 0.8 {
		t.Fatalf("expected score above threshold, got %v", aboveScore)
	}
	if !scorer.IsMatch(aboveScore) {
		t.Fatal("score above the threshold must match")
	}
}
