// Package oracle is the HTTP client for the face match oracle, the internal
// service that turns images into face vectors and compares vectors.
//
// Calls are never retried. Every transport failure, timeout and non-2xx
// reply is reported as common.ErrOracleUnavailable.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
)

const (
	DefaultExtractTimeout = 10 * time.Second
	DefaultCompareTimeout = 5 * time.Second

	extractPath = "/extract-features"
	comparePath = "/compare-faces"

	// maxDrainBody bounds how much of a failed reply is read before the
	// connection is reused.
	maxDrainBody = 64 << 10
)

// Extraction is the oracle's analysis of one image.
type Extraction struct {
	FaceDetected  bool      `json:"face_detected"`
	Encoding      []float64 `json:"encoding"`
	Confidence    float64   `json:"confidence"`
	LivenessScore float64   `json:"liveness_score"`
	QualityScore  float64   `json:"quality_score"`
	Message       string    `json:"message"`
}

// LogValue omits the face vector.
func (e Extraction) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("face_detected", e.FaceDetected),
		slog.Float64("liveness_score", e.LivenessScore),
		slog.Float64("quality_score", e.QualityScore),
		slog.Float64("confidence", e.Confidence),
		slog.Int("dims", len(e.Encoding)),
	)
}

// Comparison is the oracle's verdict on two vectors. Confidence is
// max(0, 1-distance).
type Comparison struct {
	Match      bool    `json:"match"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

type compareRequest struct {
	Encoding1 []float64 `json:"encoding1"`
	Encoding2 []float64 `json:"encoding2"`
	Threshold float64   `json:"threshold"`
}

type Client struct {
	baseURL        string
	internalToken  string
	httpClient     *http.Client
	extractTimeout time.Duration
	compareTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithTimeouts(extract, compare time.Duration) Option {
	return func(cl *Client) {
		if extract > 0 {
			cl.extractTimeout = extract
		}
		if compare > 0 {
			cl.compareTimeout = compare
		}
	}
}

func NewClient(baseURL, internalToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		internalToken:  internalToken,
		httpClient:     &http.Client{},
		extractTimeout: DefaultExtractTimeout,
		compareTimeout: DefaultCompareTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ExtractFeatures uploads image as multipart field "file". A reply with
// face_detected=false is a valid answer, not an error.
func (c *Client) ExtractFeatures(ctx context.Context, image []byte, filename, contentType string) (*Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.extractTimeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+extractPath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	out := &Extraction{}
	if err := c.do(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompareFaces asks whether a and b belong to the same face under threshold.
func (c *Client) CompareFaces(ctx context.Context, a, b []float64, threshold float64) (*Comparison, error) {
	ctx, cancel := context.WithTimeout(ctx, c.compareTimeout)
	defer cancel()

	payload, err := json.Marshal(compareRequest{Encoding1: a, Encoding2: b, Threshold: threshold})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+comparePath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	out := &Comparison{}
	if err := c.do(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.internalToken != "" {
		req.Header.Set(common.InternalTokenHeader, c.internalToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", common.ErrOracleUnavailable, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The reply body may echo the submitted encodings, so it is drained
		// and never surfaced.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBody))
		return fmt.Errorf("%w: %s: %s", common.ErrOracleUnavailable, req.URL.Path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode reply: %v", common.ErrOracleUnavailable, req.URL.Path, err)
	}
	return nil
}
