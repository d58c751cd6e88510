package biometric

import (
	"errors"
	"testing"

	"github.com/example/face-verify/internal/faceprovider"
)

func faceWithConfidence(confidence float64) faceprovider.DetectedFace {
	return faceprovider.DetectedFace{FaceToken: "ft", Confidence: confidence}
}

func TestCheckForEnrollment(t *testing.T) {
	gate := NewGate(0.8)

	if _, err := gate.CheckForEnrollment(nil); !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}

	two := []faceprovider.DetectedFace{faceWithConfidence(0.9), faceWithConfidence(0.9)}
	if _, err := gate.CheckForEnrollment(two); !errors.Is(err, ErrMultipleFacesDetected) {
		t.Fatalf("expected ErrMultipleFacesDetected, got %v", err)
	}

	low := []faceprovider.DetectedFace{faceWithConfidence(0.79)}
	if _, err := gate.CheckForEnrollment(low); !errors.Is(err, ErrLowFaceConfidence) {
		t.Fatalf("expected ErrLowFaceConfidence, got %v", err)
	}

	// The bound is inclusive: exactly 0.8 passes.
	boundary := []faceprovider.DetectedFace{faceWithConfidence(0.8)}
	face, err := gate.CheckForEnrollment(boundary)
	if err != nil {
		t.Fatalf("confidence 0.8 should pass enrollment, got %v", err)
	}
	if face.FaceToken != "ft" {
		t.Fatalf("unexpected face returned: %+v", face)
	}
}

func TestCheckForVerificationIgnoresConfidence(t *testing.T) {
	gate := NewGate(0.8)

	if _, err := gate.CheckForVerification(nil); !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}

	low := []faceprovider.DetectedFace{faceWithConfidence(0.4)}
	if _, err := gate.CheckForVerification(low); err != nil {
		t.Fatalf("verification should accept low confidence, got %v", err)
	}

	two := []faceprovider.DetectedFace{faceWithConfidence(0.9), faceWithConfidence(0.9)}
	if _, err := gate.CheckForVerification(two); !errors.Is(err, ErrMultipleFacesDetected) {
		t.Fatalf("expected ErrMultipleFacesDetected, got %v", err)
	}
}
