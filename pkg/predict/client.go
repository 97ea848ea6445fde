// Package predict submits medical images to the remote inference endpoint
// and retries ancillary uploads.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"medscan/pkg/imaging"
)

const (
	DefaultBaseURL = "https://mlmodelbackend.onrender.com"
	defaultTimeout = 90 * time.Second
	maxResponseLen = 1 << 20
)

// File is an image selected for classification.
type File struct {
	Name string
	Data []byte
}

// Result is a single classification.
type Result struct {
	Label           string  `json:"label"`
	ConfidenceScore float64 `json:"confidence_score"`
}

type Option func(*Client)

// WithHTTPClient replaces the default client (90s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenSource attaches "Authorization: Bearer <token>" when the source
// returns a non-empty token.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.tokenSource = fn }
}

// WithCompression overrides the pre-upload size bounds.
func WithCompression(opts imaging.Options) Option {
	return func(c *Client) { c.compression = opts }
}

// WithoutCompression sends files exactly as given.
func WithoutCompression() Option {
	return func(c *Client) { c.skipCompression = true }
}

// Client talks to an endpoint implementing POST /predict?model_type=.
// A Client is safe for concurrent use, but callers are expected to keep at
// most one Submit in flight per user action.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	tokenSource     func() string
	compression     imaging.Options
	skipCompression bool
	logger          *zap.Logger
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		compression: imaging.DefaultOptions(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictResponse struct {
	Prediction      *string  `json:"prediction"`
	ConfidenceScore *float64 `json:"confidence_score"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit classifies file with the given model. It never retries; a failed
// call returns *Error (remote failures) or a validation error (bad input).
func (c *Client) Submit(ctx context.Context, file File, modelType ModelType) (*Result, error) {
	if !modelType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModelType, string(modelType))
	}
	if len(file.Data) == 0 {
		return nil, ErrEmptyFile
	}
	detected := mimetype.Detect(file.Data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, detected.String())
	}

	payload, contentType := c.prepare(file, detected.String())
	body, formType, err := multipartBody(file.Name, contentType, payload)
	if err != nil {
		return nil, fmt.Errorf("build multipart body failed: %w", err)
	}

	endpoint := c.baseURL + "/predict?model_type=" + url.QueryEscape(modelType.APIName())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build predict request failed: %w", err)
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Accept", "application/json")
	if c.tokenSource != nil {
		if token := c.tokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	c.logger.Debug("predict request",
		zap.String("model_type", modelType.APIName()),
		zap.String("file", file.Name),
		zap.Int("bytes", len(payload)),
	)
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("read predict response failed: %w", err)}
	}
	c.logger.Debug("predict response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	return decodeResponse(resp.StatusCode, raw)
}

func (c *Client) prepare(file File, contentType string) ([]byte, string) {
	if c.skipCompression {
		return file.Data, contentType
	}
	out, err := imaging.Compress(file.Data, c.compression)
	if err != nil {
		c.logger.Warn("image compression failed, sending original",
			zap.String("file", file.Name),
			zap.Error(err),
		)
		return file.Data, contentType
	}
	if out.Reencoded {
		c.logger.Debug("image compressed",
			zap.Int("original_bytes", len(file.Data)),
			zap.Int("compressed_bytes", len(out.Data)),
			zap.Int("width", out.Width),
			zap.Int("height", out.Height),
		)
	}
	return out.Data, out.ContentType
}

func multipartBody(filename, contentType string, data []byte) (io.Reader, string, error) {
	if filename == "" {
		filename = "image"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func decodeResponse(status int, raw []byte) (*Result, error) {
	switch {
	case status >= 200 && status < 300:
		var parsed predictResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &Error{Kind: KindHTTP, StatusCode: status, Message: "malformed prediction response", Err: err}
		}
		if parsed.Prediction == nil || parsed.ConfidenceScore == nil {
			return nil, &Error{Kind: KindHTTP, StatusCode: status, Message: "incomplete prediction response"}
		}
		score := *parsed.ConfidenceScore
		if score < 0 || score > 1 {
			return nil, &Error{Kind: KindHTTP, StatusCode: status, Message: fmt.Sprintf("confidence score %v out of range", score)}
		}
		return &Result{Label: *parsed.Prediction, ConfidenceScore: score}, nil

	case status == http.StatusBadRequest:
		msg := "Bad Request"
		var parsed errorResponse
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return nil, &Error{Kind: KindBadRequest, StatusCode: status, Message: msg}

	default:
		var parsed errorResponse
		_ = json.Unmarshal(raw, &parsed)
		return nil, &Error{Kind: KindHTTP, StatusCode: status, Message: parsed.Error}
	}
}
