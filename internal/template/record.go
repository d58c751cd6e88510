package template

import (
	"time"

	"github.com/example/face-verify/internal/faceprovider"
)

// FeatureRecord is the minimal biometric feature set kept per enrolled user.
// It is built from a detector result that passed the enrollment gate,
// encrypted immediately, and only ever reconstructed transiently during a
// verify call.
type FeatureRecord struct {
	FaceToken  string                     `json:"face_token"`
	Attributes faceprovider.Attributes    `json:"attributes"`
	Landmarks  []faceprovider.Point       `json:"landmarks"`
	Landmark72 []faceprovider.Point       `json:"landmark72"`
	Quality    faceprovider.QualityScores `json:"quality"`
	CreatedAt  int64                      `json:"created_at"`
}

// NewFeatureRecord extracts the persisted feature set from a detected face.
func NewFeatureRecord(face faceprovider.DetectedFace) FeatureRecord {
	return FeatureRecord{
		FaceToken:  face.FaceToken,
		Attributes: face.Attributes,
		Landmarks:  face.Landmarks,
		Landmark72: face.Landmark72,
		Quality:    face.Quality,
		CreatedAt:  time.Now().Unix(),
	}
}
