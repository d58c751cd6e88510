package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/face-verify/internal/auth"
	"github.com/example/face-verify/internal/biometric"
	"github.com/example/face-verify/internal/faceprovider"
	"github.com/example/face-verify/internal/template"
	"github.com/example/face-verify/internal/usecase"
)

// MaxUploadSize bounds the accepted photo payload.
const MaxUploadSize = 8 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. Every face
// route requires an authenticated user; the subject claim is the identity
// templates are stored under.
func RegisterRoutes(router *gin.Engine, uc *usecase.FaceUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	face := router.Group("/face", authMiddleware)

	face.POST("/enroll", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		image, ok := readImage(c)
		if !ok {
			return
		}

		requestID, err := uc.EnrollUser(c.Request.Context(), userID, image)
		if err != nil {
			writeFailure(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"request_id": requestID,
			"enrolled":   true,
		})
	})

	face.POST("/verify", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		image, ok := readImage(c)
		if !ok {
			return
		}

		requestID, result, err := uc.VerifyUser(c.Request.Context(), userID, image)
		if err != nil {
			writeFailure(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": requestID,
			"is_match":   result.IsMatch,
			"confidence": result.Confidence,
		})
	})

	face.GET("/result/:id", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		requestID := c.Param("id")
		audit, err := uc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":   audit.RequestID,
			"is_match":     audit.IsMatch,
			"confidence":   audit.Score,
			"failure_kind": audit.FailureKind,
			"created_at":   audit.CreatedAt,
		})
	})

	face.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readImage extracts and validates the uploaded photo. It writes the error
// response itself and reports success via the bool.
func readImage(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}

	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}

	if !allowedImageType(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be jpeg or png"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	if len(data) > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}

	return data, true
}

func allowedImageType(file *multipart.FileHeader) bool {
	contentType := strings.ToLower(file.Header.Get("Content-Type"))
	return contentType == "image/jpeg" || contentType == "image/png"
}

// writeFailure maps pipeline failure kinds onto HTTP statuses. Pipeline
// errors are user-facing; provider details stay in the logs.
func writeFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, biometric.ErrNoFaceDetected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected, retake the photo", "code": "no_face_detected"})
	case errors.Is(err, biometric.ErrMultipleFacesDetected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "exactly one face must be visible", "code": "multiple_faces_detected"})
	case errors.Is(err, biometric.ErrLowFaceConfidence):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "photo quality too low for enrollment", "code": "low_face_confidence"})
	case errors.Is(err, biometric.ErrLivenessFailed):
		c.JSON(http.StatusForbidden, gin.H{"error": "liveness could not be confirmed", "code": "liveness_failed"})
	case errors.Is(err, template.ErrTemplateCorrupted):
		c.JSON(http.StatusConflict, gin.H{"error": "stored template unreadable, re-enrollment required", "code": "template_corrupted"})
	case errors.Is(err, usecase.ErrTemplateNotEnrolled):
		c.JSON(http.StatusNotFound, gin.H{"error": "no enrollment found for user", "code": "not_enrolled"})
	case faceprovider.IsKind(err, faceprovider.KindSemantic):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "image rejected by recognition provider", "code": "provider_semantic"})
	case faceprovider.IsKind(err, faceprovider.KindAuth):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verification temporarily unavailable", "code": "provider_auth"})
	case faceprovider.IsKind(err, faceprovider.KindRequest):
		c.JSON(http.StatusBadGateway, gin.H{"error": "recognition provider unreachable", "code": "provider_request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
	}
}
