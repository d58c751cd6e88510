// Package baiduface implements the faceprovider contract against the Baidu
// AI open-platform face API. All wire shapes (base64 JSON payloads, the
// access_token query parameter, numeric error codes) stay inside this
// package; swapping the vendor means replacing this package only.
package baiduface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/faceprovider"
)

const (
	tokenPath      = "/oauth/2.0/token"
	detectPath     = "/rest/2.0/face/v3/detect"
	matchPath      = "/rest/2.0/face/v3/match"
	faceVerifyPath = "/rest/2.0/face/v3/faceverify"

	// Provider error codes for an invalid or expired access token.
	codeTokenInvalid = 110
	codeTokenExpired = 111
	// Returned by detect when the image contains no face; normalized to an
	// empty face list so the quality gate owns the zero-face decision.
	codeNoFaceFound = 222202

	detectFaceFields = "age,gender,expression,glasses,landmark,landmark72,quality"
	maxFaceNum       = 10
)

// Client talks to the provider over HTTP. It is stateless and performs no
// retries; it also implements faceprovider.Exchanger for the token grant.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient builds a provider client with a bounded per-call timeout.
func NewClient(baseURL, clientID, clientSecret string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.Named("baiduface"),
	}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCredentials performs the client-credentials grant and returns the
// bearer token with its absolute expiry.
func (c *Client) ExchangeCredentials(ctx context.Context) (faceprovider.Credential, error) {
	query := url.Values{}
	query.Set("grant_type", "client_credentials")
	query.Set("client_id", c.clientID)
	query.Set("client_secret", c.clientSecret)

	endpoint := c.baseURL + tokenPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return faceprovider.Credential{}, faceprovider.NewProviderError(faceprovider.KindAuth, "baiduface.exchange", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faceprovider.Credential{}, faceprovider.NewProviderError(faceprovider.KindAuth, "baiduface.exchange", err)
	}
	defer resp.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return faceprovider.Credential{}, faceprovider.NewProviderError(faceprovider.KindAuth, "baiduface.exchange", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" || parsed.AccessToken == "" {
		err := fmt.Errorf("credential exchange rejected: %s %s", parsed.Error, parsed.ErrorDescription)
		c.logger.Error("credential exchange rejected", zap.Int("status", resp.StatusCode), zap.String("reason", parsed.Error))
		return faceprovider.Credential{}, faceprovider.NewProviderError(faceprovider.KindAuth, "baiduface.exchange", err)
	}

	return faceprovider.Credential{
		Token:  parsed.AccessToken,
		Expiry: time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}

type apiEnvelope struct {
	ErrorCode int64           `json:"error_code"`
	ErrorMsg  string          `json:"error_msg"`
	Result    json.RawMessage `json:"result"`
}

type wirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type wireTyped struct {
	Type        string  `json:"type"`
	Probability float64 `json:"probability"`
}

type wireFace struct {
	FaceToken string `json:"face_token"`
	Location  struct {
		Left     float64 `json:"left"`
		Top      float64 `json:"top"`
		Width    float64 `json:"width"`
		Height   float64 `json:"height"`
		Rotation int     `json:"rotation"`
	} `json:"location"`
	FaceProbability float64     `json:"face_probability"`
	Age             float64     `json:"age"`
	Gender          wireTyped   `json:"gender"`
	Expression      wireTyped   `json:"expression"`
	Glasses         wireTyped   `json:"glasses"`
	Landmark        []wirePoint `json:"landmark"`
	Landmark72      []wirePoint `json:"landmark72"`
	Quality         struct {
		Occlusion struct {
			LeftEye     float64 `json:"left_eye"`
			RightEye    float64 `json:"right_eye"`
			Nose        float64 `json:"nose"`
			Mouth       float64 `json:"mouth"`
			LeftCheek   float64 `json:"left_cheek"`
			RightCheek  float64 `json:"right_cheek"`
			ChinContour float64 `json:"chin_contour"`
		} `json:"occlusion"`
		Blur         float64 `json:"blur"`
		Illumination float64 `json:"illumination"`
		Completeness float64 `json:"completeness"`
	} `json:"quality"`
}

type detectResult struct {
	FaceNum  int        `json:"face_num"`
	FaceList []wireFace `json:"face_list"`
}

// Detect returns every face found in the image, possibly none.
func (c *Client) Detect(ctx context.Context, token string, image []byte) ([]faceprovider.DetectedFace, error) {
	payload := map[string]any{
		"image":        base64.StdEncoding.EncodeToString(image),
		"image_type":   "BASE64",
		"face_field":   detectFaceFields,
		"max_face_num": maxFaceNum,
	}

	raw, err := c.post(ctx, "baiduface.detect", detectPath, token, payload, []int64{codeNoFaceFound})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var result detectResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, faceprovider.NewProviderError(faceprovider.KindSemantic, "baiduface.detect", err)
	}

	faces := make([]faceprovider.DetectedFace, 0, len(result.FaceList))
	for _, face := range result.FaceList {
		faces = append(faces, normalizeFace(face))
	}
	return faces, nil
}

type matchResult struct {
	Score float64 `json:"score"`
}

// MatchPair returns the provider's raw 0-100 similarity for two images.
func (c *Client) MatchPair(ctx context.Context, token string, imageA, imageB []byte) (float64, error) {
	payload := []map[string]any{
		{"image": base64.StdEncoding.EncodeToString(imageA), "image_type": "BASE64"},
		{"image": base64.StdEncoding.EncodeToString(imageB), "image_type": "BASE64"},
	}

	raw, err := c.post(ctx, "baiduface.match", matchPath, token, payload, nil)
	if err != nil {
		return 0, err
	}

	var result matchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, faceprovider.NewProviderError(faceprovider.KindSemantic, "baiduface.match", err)
	}
	return result.Score, nil
}

type livenessResult struct {
	FaceLiveness float64 `json:"face_liveness"`
}

// CheckLiveness returns the provider's 0-1 liveness score for the image.
func (c *Client) CheckLiveness(ctx context.Context, token string, image []byte) (float64, error) {
	payload := []map[string]any{
		{"image": base64.StdEncoding.EncodeToString(image), "image_type": "BASE64"},
	}

	raw, err := c.post(ctx, "baiduface.liveness", faceVerifyPath, token, payload, nil)
	if err != nil {
		return 0, err
	}

	var result livenessResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, faceprovider.NewProviderError(faceprovider.KindSemantic, "baiduface.liveness", err)
	}
	return result.FaceLiveness, nil
}

// post issues one provider call and unwraps the response envelope. Codes
// listed in emptyCodes yield a nil result instead of an error.
func (c *Client) post(ctx context.Context, op, path, token string, payload any, emptyCodes []int64) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, faceprovider.NewProviderError(faceprovider.KindRequest, op, err)
	}

	endpoint := c.baseURL + path + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, faceprovider.NewProviderError(faceprovider.KindRequest, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, faceprovider.NewProviderError(faceprovider.KindRequest, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(data))
		c.logger.Error("provider request failed", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return nil, faceprovider.NewProviderError(faceprovider.KindRequest, op, err)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, faceprovider.NewProviderError(faceprovider.KindRequest, op, err)
	}

	if envelope.ErrorCode != 0 {
		for _, code := range emptyCodes {
			if envelope.ErrorCode == code {
				return nil, nil
			}
		}
		kind := faceprovider.KindSemantic
		if envelope.ErrorCode == codeTokenInvalid || envelope.ErrorCode == codeTokenExpired {
			kind = faceprovider.KindAuth
		}
		c.logger.Warn("provider flagged request",
			zap.String("op", op),
			zap.Int64("error_code", envelope.ErrorCode),
			zap.String("error_msg", envelope.ErrorMsg))
		return nil, faceprovider.NewProviderError(kind, op, fmt.Errorf("provider error %d: %s", envelope.ErrorCode, envelope.ErrorMsg))
	}

	return envelope.Result, nil
}

func normalizeFace(face wireFace) faceprovider.DetectedFace {
	return faceprovider.DetectedFace{
		FaceToken: face.FaceToken,
		Bounds: faceprovider.Bounds{
			Left:     face.Location.Left,
			Top:      face.Location.Top,
			Width:    face.Location.Width,
			Height:   face.Location.Height,
			Rotation: face.Location.Rotation,
		},
		Confidence: face.FaceProbability,
		Attributes: faceprovider.Attributes{
			Age: face.Age,
			Gender: faceprovider.GenderEstimate{
				Value:      face.Gender.Type,
				Confidence: face.Gender.Probability,
			},
			Expression: face.Expression.Type,
			Eyewear:    face.Glasses.Type,
		},
		Landmarks:  convertPoints(face.Landmark),
		Landmark72: convertPoints(face.Landmark72),
		Quality: faceprovider.QualityScores{
			Occlusion: faceprovider.Occlusion{
				LeftEye:     face.Quality.Occlusion.LeftEye,
				RightEye:    face.Quality.Occlusion.RightEye,
				Nose:        face.Quality.Occlusion.Nose,
				Mouth:       face.Quality.Occlusion.Mouth,
				LeftCheek:   face.Quality.Occlusion.LeftCheek,
				RightCheek:  face.Quality.Occlusion.RightCheek,
				ChinContour: face.Quality.Occlusion.ChinContour,
			},
			Blur:         face.Quality.Blur,
			Illumination: face.Quality.Illumination,
			Completeness: face.Quality.Completeness,
		},
	}
}

func convertPoints(points []wirePoint) []faceprovider.Point {
	if len(points) == 0 {
		return nil
	}
	converted := make([]faceprovider.Point, len(points))
	for i, p := range points {
		converted[i] = faceprovider.Point{X: p.X, Y: p.Y}
	}
	return converted
}

var (
	_ faceprovider.Client    = (*Client)(nil)
	_ faceprovider.Exchanger = (*Client)(nil)
)
