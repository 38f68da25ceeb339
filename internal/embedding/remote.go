package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// Remote talks to an InsightFace-style embedding server. It is both a Detector
// (POST /embed/face) and an Embedder (POST /embed/image).
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a client for the embedding server at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Remote) Name() string { return "remote" }

// imageResponse represents the response from the image embedding endpoint
type imageResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Embed computes a vector for the region crop.
func (c *Remote) Embed(ctx context.Context, r Region) (facematch.Embedding, error) {
	data, err := EncodeJPEG(r.Crop())
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/image", data)
	if err != nil {
		return nil, err
	}

	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Embedding, nil
}

// Detect sends the whole image and returns the faces the server found, with their
// embeddings. Faces without a usable bounding box are skipped.
func (c *Remote) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", data)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	origin := img.Bounds().Min
	out := make([]Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		box, ok := facematch.BoxFromCorners(f.BBox)
		if !ok {
			continue
		}
		box = facematch.BoxFromRect(box.Rect().Add(origin)).Clamp(img.Bounds())
		if box.Empty() {
			continue
		}
		out = append(out, Detection{Box: box, Embedding: f.Embedding, Backend: c.Name()})
	}
	return out, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Remote) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
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
