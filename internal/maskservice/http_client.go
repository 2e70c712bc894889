package maskservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/logging"
)

const (
	// FormField is the multipart part name the service reads the image from.
	FormField = "file"

	// DefaultMaxResultBytes caps how much of a response body is read.
	DefaultMaxResultBytes int64 = 50 << 20
)

// ErrResultTooLarge is returned when the response body exceeds the configured cap.
var ErrResultTooLarge = errors.New("masked image exceeds size limit")

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// HTTPClient posts images to the masking endpoint as multipart form data.
type HTTPClient struct {
	endpoint       string
	httpClient     *http.Client
	maxResultBytes int64
	logger         *zap.Logger
}

// NewHTTPClient builds a client for endpoint. A nil httpClient uses a client without a
// timeout; deadlines come from the caller's context. maxResultBytes <= 0 applies
// DefaultMaxResultBytes.
func NewHTTPClient(endpoint string, httpClient *http.Client, maxResultBytes int64, logger *zap.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if maxResultBytes <= 0 {
		maxResultBytes = DefaultMaxResultBytes
	}
	return &HTTPClient{
		endpoint:       endpoint,
		httpClient:     httpClient,
		maxResultBytes: maxResultBytes,
		logger:         logger.Named("maskservice"),
	}
}

func (c *HTTPClient) Mask(ctx context.Context, requestID string, file File) (*Result, error) {
	body, contentType, err := encodeForm(file)
	if err != nil {
		return nil, logging.Wrap("maskservice.encode_form", requestID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, logging.Wrap("maskservice.new_request", requestID, err)
	}
	req.Header.Set("Content-Type", contentType)
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := logging.Wrap("maskservice.post", requestID, err)
		c.logger.Error("masking request failed", zap.Error(wrapped), zap.String("endpoint", c.endpoint))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		c.logger.Warn("masking service rejected request",
			zap.String("request_id", requestID), zap.Int("status", resp.StatusCode))
		return nil, logging.Wrap("maskservice.post", requestID, statusErr)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResultBytes+1))
	if err != nil {
		return nil, logging.Wrap("maskservice.read_body", requestID, err)
	}
	if int64(len(data)) > c.maxResultBytes {
		return nil, logging.Wrap("maskservice.read_body", requestID, ErrResultTooLarge)
	}

	resultType := resp.Header.Get("Content-Type")
	if resultType == "" {
		resultType = mimetype.Detect(data).String()
	}

	c.logger.Debug("masking request succeeded",
		zap.String("request_id", requestID), zap.Int("bytes", len(data)), zap.String("content_type", resultType))

	return &Result{
		Data:               data,
		ContentType:        resultType,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
	}, nil
}

func encodeForm(file File) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormField, quoteEscaper.Replace(file.Name)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
