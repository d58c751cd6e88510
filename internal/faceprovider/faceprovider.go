package faceprovider

import (
	"context"
	"time"
)

// Point is a landmark coordinate in image pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds describes the detected face rectangle.
type Bounds struct {
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation"`
}

// GenderEstimate is the provider's coarse gender guess with its confidence.
type GenderEstimate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Attributes are the coarse per-face attributes reported by the detector.
type Attributes struct {
	Age        float64        `json:"age"`
	Gender     GenderEstimate `json:"gender"`
	Expression string         `json:"expression"`
	Eyewear    string         `json:"eyewear"`
}

// Occlusion holds per-region occlusion ratios (0 means fully visible).
type Occlusion struct {
	LeftEye     float64 `json:"left_eye"`
	RightEye    float64 `json:"right_eye"`
	Nose        float64 `json:"nose"`
	Mouth       float64 `json:"mouth"`
	LeftCheek   float64 `json:"left_cheek"`
	RightCheek  float64 `json:"right_cheek"`
	ChinContour float64 `json:"chin_contour"`
}

// QualityScores are the detector's per-face quality sub-scores.
type QualityScores struct {
	Occlusion    Occlusion `json:"occlusion"`
	Blur         float64   `json:"blur"`
	Illumination float64   `json:"illumination"`
	Completeness float64   `json:"completeness"`
}

// DetectedFace is the normalized detector output for a single face. It is
// only ever constructed by a provider client and lives for the duration of
// one detect call; persisted state goes through template.FeatureRecord.
type DetectedFace struct {
	FaceToken  string        `json:"face_token"`
	Bounds     Bounds        `json:"bounds"`
	Confidence float64       `json:"confidence"`
	Attributes Attributes    `json:"attributes"`
	Landmarks  []Point       `json:"landmarks"`
	Landmark72 []Point       `json:"landmark72"`
	Quality    QualityScores `json:"quality"`
}

// Client is the narrow contract every recognition provider must satisfy.
// Implementations are stateless and perform no retries; retry policy lives
// with the caller.
type Client interface {
	// Detect returns the faces found in an image, possibly none.
	Detect(ctx context.Context, token string, image []byte) ([]DetectedFace, error)

	// MatchPair returns the provider's own similarity metric for two images.
	// The value is raw (provider-scaled) and only used as a secondary signal.
	MatchPair(ctx context.Context, token string, imageA, imageB []byte) (float64, error)

	// CheckLiveness returns a 0-1 score that the image shows a live person.
	CheckLiveness(ctx context.Context, token string, image []byte) (float64, error)
}

// Credential is a bearer token with its absolute expiry.
type Credential struct {
	Token  string
	Expiry time.Time
}

// Exchanger performs the client-credentials grant against the provider.
type Exchanger interface {
	ExchangeCredentials(ctx context.Context) (Credential, error)
}
