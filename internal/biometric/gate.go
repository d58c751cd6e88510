package biometric

import "github.com/example/face-verify/internal/faceprovider"

// Gate validates detector output before it may feed enrollment or
// verification. Enrollment is stricter: its template is reused for every
// future verification, so a low-confidence detection is rejected outright.
type Gate struct {
	enrollConfidence float64
}

// NewGate builds a gate with the enrollment confidence bound (inclusive).
func NewGate(enrollConfidence float64) *Gate {
	return &Gate{enrollConfidence: enrollConfidence}
}

// CheckForEnrollment accepts exactly one face with confidence at or above
// the enrollment bound.
func (g *Gate) CheckForEnrollment(faces []faceprovider.DetectedFace) (faceprovider.DetectedFace, error) {
	face, err := g.singleFace(faces)
	if err != nil {
		return faceprovider.DetectedFace{}, err
	}
	if face.Confidence < g.enrollConfidence {
		return faceprovider.DetectedFace{}, ErrLowFaceConfidence
	}
	return face, nil
}

// CheckForVerification accepts exactly one face; any confidence passes as
// long as the face is unambiguously present.
func (g *Gate) CheckForVerification(faces []faceprovider.DetectedFace) (faceprovider.DetectedFace, error) {
	return g.singleFace(faces)
}

func (g *Gate) singleFace(faces []faceprovider.DetectedFace) (faceprovider.DetectedFace, error) {
	switch len(faces) {
	case 0:
		return faceprovider.DetectedFace{}, ErrNoFaceDetected
	case 1:
		return faces[0], nil
	default:
		return faceprovider.DetectedFace{}, ErrMultipleFacesDetected
	}
}
