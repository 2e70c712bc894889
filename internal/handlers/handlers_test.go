package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/auth"
	"github.com/example/pii-mask/internal/handles"
	"github.com/example/pii-mask/internal/maskservice"
	"github.com/example/pii-mask/internal/workflow"
)

const (
	testJWTSecret  = "test-secret"
	testUploadSize = 1024
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 32)...)

type stubMasker struct {
	mu     sync.Mutex
	calls  int
	result *maskservice.Result
	err    error
}

func (s *stubMasker) Mask(ctx context.Context, requestID string, file maskservice.File) (*maskservice.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

type testEnv struct {
	router  *gin.Engine
	metrics *workflow.Metrics
	table   *handles.Table
	masker  *stubMasker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	masker := &stubMasker{result: &maskservice.Result{
		Data:               []byte("masked-bytes"),
		ContentType:        "image/png",
		ContentDisposition: `attachment; filename="masked.png"`,
	}}
	table := handles.NewTable(handles.NewMemoryStore(), 0, zap.NewNop())
	metrics := &workflow.Metrics{}
	registry := workflow.NewRegistry(func() *workflow.Controller {
		return workflow.New(masker, table, zap.NewNop(), workflow.Options{Metrics: metrics})
	})

	router := gin.New()
	RegisterRoutes(router, registry, metrics, auth.RequireSubject(testJWTSecret, ""), testUploadSize, zap.NewNop())
	return &testEnv{router: router, metrics: metrics, table: table, masker: masker}
}

func (e *testEnv) do(t *testing.T, method, path, subject string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, subject))
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func decodeSnapshot(t *testing.T, resp *httptest.ResponseRecorder) workflow.Snapshot {
	t.Helper()
	var snap workflow.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode snapshot %q: %v", resp.Body.String(), err)
	}
	return snap
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestWorkflowRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/workflow", "", nil, "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestSelectFileRejectsLargeUpload(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), testUploadSize+1))

	resp := env.do(t, http.MethodPost, "/workflow/file", "user-123", body, contentType)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestSelectFileRejectsNonImage(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))

	resp := env.do(t, http.MethodPost, "/workflow/file", "user-123", body, contentType)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestSelectFileRequiresFilePart(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/workflow/file", "user-123", bytes.NewBufferString("x=1"), "application/x-www-form-urlencoded")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestSubmitWithoutFileIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/workflow/submit?wait=true", "user-123", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	snap := decodeSnapshot(t, resp)
	if snap.Error != workflow.MessageNoFileSelected {
		t.Fatalf("unexpected error: %q", snap.Error)
	}
	if env.masker.calls != 0 {
		t.Fatalf("expected no masking calls, got %d", env.masker.calls)
	}
}

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	const user = "user-123"

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	resp := env.do(t, http.MethodPost, "/workflow/file", user, body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("select: expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	selected := decodeSnapshot(t, resp)
	if selected.File == nil || selected.File.Name != "upload.png" || selected.File.Preview == "" {
		t.Fatalf("unexpected selection: %+v", selected.File)
	}

	resp = env.do(t, http.MethodGet, "/handles/"+selected.File.Preview.String(), user, nil, "")
	if resp.Code != http.StatusOK || !bytes.Equal(resp.Body.Bytes(), pngBytes) {
		t.Fatalf("preview: unexpected response %d", resp.Code)
	}
	if resp.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", resp.Header().Get("Cache-Control"))
	}

	resp = env.do(t, http.MethodPost, "/workflow/submit?wait=true", user, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d", resp.Code)
	}
	done := decodeSnapshot(t, resp)
	if done.Status != workflow.StatusSucceeded || done.Result == nil || done.Result.Filename != "masked.png" {
		t.Fatalf("unexpected outcome: %+v", done)
	}

	resp = env.do(t, http.MethodGet, "/workflow/download", user, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Disposition"); got != "attachment; filename=masked.png" {
		t.Fatalf("unexpected disposition: %q", got)
	}
	if resp.Body.String() != "masked-bytes" {
		t.Fatalf("unexpected download body: %q", resp.Body.String())
	}

	resp = env.do(t, http.MethodGet, "/metrics", user, nil, "")
	var summary workflow.MetricsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if summary.TotalAttempts != 1 || summary.SuccessfulAttempts != 1 || summary.SuccessRate != 1 {
		t.Fatalf("unexpected metrics: %+v", summary)
	}

	resp = env.do(t, http.MethodPost, "/workflow/reset", user, nil, "")
	if snap := decodeSnapshot(t, resp); snap.Status != workflow.StatusIdle || snap.File != nil {
		t.Fatalf("unexpected state after reset: %+v", snap)
	}
	if env.table.Live() != 0 {
		t.Fatalf("expected handles released, got %d", env.table.Live())
	}

	resp = env.do(t, http.MethodGet, "/workflow/download", user, nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after reset, got %d", resp.Code)
	}
}

func TestSubmitAsyncSettles(t *testing.T) {
	env := newTestEnv(t)
	const user = "user-async"

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	env.do(t, http.MethodPost, "/workflow/file", user, body, contentType)

	resp := env.do(t, http.MethodPost, "/workflow/submit", user, nil, "")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/workflow", user, nil, ""))
		if snap.Status == workflow.StatusSucceeded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("attempt did not settle")
}

func TestHandlesAreScopedToSubject(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	snap := decodeSnapshot(t, env.do(t, http.MethodPost, "/workflow/file", "alice", body, contentType))

	resp := env.do(t, http.MethodGet, "/handles/"+snap.File.Preview.String(), "mallory", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign handle, got %d", resp.Code)
	}
}

func TestForgetReleasesWorkflow(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	env.do(t, http.MethodPost, "/workflow/file", "alice", body, contentType)
	if env.table.Live() != 1 {
		t.Fatalf("expected one live handle, got %d", env.table.Live())
	}

	resp := env.do(t, http.MethodDelete, "/workflow", "alice", nil, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if env.table.Live() != 0 {
		t.Fatalf("expected handles released, got %d", env.table.Live())
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="upload.png"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
