package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/docchat/internal/domain"
	"github.com/liliang-cn/docchat/internal/llm"
	"github.com/liliang-cn/docchat/internal/metrics"
	"github.com/liliang-cn/docchat/internal/repository"
	"github.com/liliang-cn/docchat/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type textExtractor struct{}

func (textExtractor) ExtractText(raw []byte) (string, error) {
	return string(raw), nil
}

// upstream is a fake chat-completion provider
type upstream struct {
	*httptest.Server

	mu       sync.Mutex
	frames   []string
	status   int
	requests []llm.ChatCompletionRequest
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{status: http.StatusOK}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		u.mu.Lock()
		u.requests = append(u.requests, req)
		frames, status := u.frames, u.status
		u.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, `{"error":"bad key"}`, status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) reply(frames ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.frames = frames
}

func (u *upstream) lastRequest() llm.ChatCompletionRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[len(u.requests)-1]
}

func delta(s string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": s}}},
	})
	return string(b)
}

type testServer struct {
	router   *gin.Engine
	upstream *upstream
	repo     *repository.SessionRepository
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()

	db, err := repository.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	up := newUpstream(t)

	repo := repository.NewSessionRepository(db)
	cache := repository.NewPDFCache(textExtractor{})
	client := llm.NewClient(llm.Options{BaseURL: up.URL, APIKey: "test", Model: "test-model", Timeout: 5 * time.Second}, logger)
	builder := service.NewContextBuilder("You are a helpful AI assistant.", service.DefaultMaxPDFTokens, service.DefaultMaxHistoryTokens, cache, logger)

	router := SetupRouter(
		service.NewChatService(repo, builder, client, m, logger, time.Second),
		service.NewDocumentService(cache, 1<<20, m, logger),
		service.NewSessionService(repo, cache, logger),
		RouterConfig{
			APIKey:       apiKey,
			AllowOrigins: []string{"*"},
			Logger:       logger,
			Metrics:      m,
			Gatherer:     reg,
		},
	)
	return &testServer{router: router, upstream: up, repo: repo}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-pdf", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.do(req)
}

func (s *testServer) chat(t *testing.T, body any) (*httptest.ResponseRecorder, []domain.StreamChunk) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/chat-stream", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)
	return rec, parseFrames(t, rec.Body.String())
}

func parseFrames(t *testing.T, body string) []domain.StreamChunk {
	t.Helper()
	var chunks []domain.StreamChunk
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var c domain.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c))
		chunks = append(chunks, c)
	}
	return chunks
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bannerMessage, decode(t, rec)["message"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode(t, rec)
	assert.Equal(t, "healthy", h["status"])
	assert.Equal(t, "connected", h["database_status"])
	assert.Equal(t, 0.0, h["pdf_cache_size"])
	assert.Equal(t, "N/A (RAG and embedding model not used)", h["embedding_model_status"])
}

func TestUploadAndListPDFs(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.upload(t, "guide.pdf", strings.Repeat("word ", 60))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.NotEmpty(t, res["pdf_id"])
	assert.Equal(t, "guide.pdf", res["filename"])
	assert.True(t, strings.HasSuffix(res["content_preview"].(string), "..."))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/pdfs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Equal(t, 1.0, list["total_pdfs"])
	assert.Equal(t, domain.PDFCacheNote, list["note"])
	pdfs := list["pdfs"].([]any)
	require.Len(t, pdfs, 1)
	assert.Equal(t, res["pdf_id"], pdfs[0].(map[string]any)["id"])
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.upload(t, "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only PDF files are allowed", decode(t, rec)["detail"])

	rec = s.upload(t, "blank.pdf", "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["detail"], "no text found in PDF")

	req := httptest.NewRequest(http.MethodPost, "/upload-pdf", strings.NewReader("not multipart"))
	rec = s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamRelaysAndPersists(t *testing.T) {
	s := newTestServer(t, "")
	s.upstream.reply(delta("Hel"), delta("lo"), "[DONE]")

	rec, chunks := s.chat(t, domain.ChatRequest{SessionID: "s1", Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", *chunks[0].Content)
	assert.Equal(t, "lo", *chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, "test-model", s.upstream.lastRequest().Model)
	assert.True(t, s.upstream.lastRequest().Stream)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var session domain.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "hi", session.Messages[0].Content)
	assert.Equal(t, "Hello", session.Messages[1].Content)
}

func TestChatStreamWithDocumentContext(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.upload(t, "manual.pdf", "The reset button is on the back panel.")
	require.Equal(t, http.StatusOK, rec.Code)
	pdfID := decode(t, rec)["pdf_id"].(string)

	s.upstream.reply(delta("On the back."), "[DONE]")
	rec, _ = s.chat(t, domain.ChatRequest{
		SessionID: "s1",
		Message:   "Where is the reset button?",
		UsePDF:    true,
		PDFIDs:    []string{pdfID, "missing-id"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := s.upstream.lastRequest().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "--- PDF Context from manual.pdf ---")
	assert.Contains(t, msgs[1].Content, "back panel")
	assert.Equal(t, "Where is the reset button?", msgs[2].Content)
}

func TestChatStreamUpstreamError(t *testing.T) {
	s := newTestServer(t, "")
	s.upstream.status = http.StatusUnauthorized

	rec, chunks := s.chat(t, domain.ChatRequest{SessionID: "s1", Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Done)
	assert.Contains(t, chunks[0].Error, "401")

	msgs, err := s.repo.ListMessages(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "Error: "))
}

func TestChatStreamValidation(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/chat-stream", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["detail"])

	rec, _ = s.chat(t, domain.ChatRequest{Message: "no session"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "session_id is required", decode(t, rec)["detail"])
}

func TestSessionsEndpoints(t *testing.T) {
	s := newTestServer(t, "")
	s.upstream.reply(delta("ok"), "[DONE]")
	s.chat(t, domain.ChatRequest{SessionID: "a", Message: "one"})
	s.chat(t, domain.ChatRequest{SessionID: "b", Message: "two"})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Equal(t, []any{"a", "b"}, list["sessions"])
	assert.Equal(t, 2.0, list["total_sessions"])

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/sessions/a", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Session 'a' deleted successfully", decode(t, rec)["message"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/sessions/a", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found or no messages.", decode(t, rec)["detail"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/sessions/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["detail"])

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, s.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, s.do(req).Code)

	// liveness stays open
	assert.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/chat-stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := s.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docchat_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
