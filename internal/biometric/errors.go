package biometric

import "errors"

// User-actionable pipeline failures. They propagate to the caller
// unchanged so it can decide on the UX response (retake photo, better
// lighting, possible spoof).
var (
	// ErrNoFaceDetected means the detector found no face in the image.
	ErrNoFaceDetected = errors.New("no face detected in image")

	// ErrMultipleFacesDetected means the image must contain exactly one face.
	ErrMultipleFacesDetected = errors.New("multiple faces detected in image")

	// ErrLowFaceConfidence means the detection confidence is below the
	// enrollment bound. Enrollment only; verification tolerates lower
	// quality because liveness and scoring discriminate further.
	ErrLowFaceConfidence = errors.New("face confidence below enrollment threshold")

	// ErrLivenessFailed means liveness could not be confirmed. It does not
	// imply the wrong person; the caller decides whether to treat it as a
	// security event.
	ErrLivenessFailed = errors.New("liveness check failed")
)
