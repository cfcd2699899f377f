// Package analyzer is the client of the face analysis server, which detects
// faces in an image and returns one embedding per face.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/facetrack/internal/capture"
	"github.com/kozaktomas/facetrack/internal/facematch"
)

const defaultAnalyzerURL = "http://localhost:8000"

// Analyzer detects faces in an encoded image.
type Analyzer interface {
	Analyze(ctx context.Context, frame capture.Frame) ([]facematch.FaceObservation, error)
}

// Client calls POST /embed/face on the analysis server.
type Client struct {
	baseURL  string
	model    string
	maxWidth int
	client   *http.Client
}

// NewClient creates a new analyzer client. Images wider than maxWidth are
// downscaled before upload; 0 disables downscaling.
func NewClient(baseURL, model string, maxWidth int) *Client {
	if baseURL == "" {
		baseURL = defaultAnalyzerURL
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		model:    model,
		maxWidth: maxWidth,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// faceDetection is a single detected face as returned by the server.
type faceDetection struct {
	FaceIndex  int       `json:"face_index"`
	Dim        int       `json:"dim"`
	Embedding  []float32 `json:"embedding"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore   float64   `json:"det_score"`
	Pose       []float64 `json:"pose,omitempty"` // [pitch, yaw, roll]
	Brightness *float64  `json:"brightness,omitempty"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Analyze detects faces in a captured frame. Bounding boxes are reported in
// the coordinates of the original frame.
func (c *Client) Analyze(ctx context.Context, frame capture.Frame) ([]facematch.FaceObservation, error) {
	faces, err := c.AnalyzeImage(ctx, frame.Data)
	if err != nil {
		return nil, err
	}
	for i := range faces {
		faces[i].CameraID = frame.CameraID
		faces[i].Timestamp = frame.CapturedAt
	}
	return faces, nil
}

// AnalyzeImage detects faces in encoded image data (JPEG, PNG or WebP).
func (c *Client) AnalyzeImage(ctx context.Context, data []byte) ([]facematch.FaceObservation, error) {
	prepared, scale, err := Prepare(data, c.maxWidth)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", prepared)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := make([]facematch.FaceObservation, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 || len(f.Embedding) == 0 {
			continue
		}
		obs := facematch.FaceObservation{
			BBox:       facematch.BBox{f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]}.Scale(scale),
			Embedding:  f.Embedding,
			DetScore:   f.DetScore,
			Brightness: f.Brightness,
		}
		if len(f.Pose) == 3 {
			obs.Pose = &facematch.Pose{Pitch: f.Pose[0], Yaw: f.Pose[1], Roll: f.Pose[2]}
		}
		out = append(out, obs)
	}
	return out, nil
}

// postMultipartImage constructs a multipart form with the JPEG data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ErrNoImage is returned for empty input.
var ErrNoImage = errors.New("empty image data")
