package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"pdf-rag/internal/models"
)

type fakePipeline struct {
	ingested  []string
	data      []byte
	questions []models.QuestionRequest
	err       error
	panicMsg  string
}

func (f *fakePipeline) Ingest(_ context.Context, data []byte, filename string) (*models.UploadResponse, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.ingested = append(f.ingested, filename)
	f.data = data
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadResponse{DocumentID: filename + "-3", ChunksIndexed: 3}, nil
}

func (f *fakePipeline) Answer(_ context.Context, req models.QuestionRequest) (*models.AnswerResponse, error) {
	f.questions = append(f.questions, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnswerResponse{
		Answer:  "Paris (p.1)",
		Context: []models.RetrievedContext{{Page: 1, Score: 0.9, Content: "Paris is the capital.", Source: "geo.pdf"}},
		Model:   "gpt-4o-mini",
	}, nil
}

type fakeLister struct {
	limit int
	docs  []models.DocumentRecord
	err   error
}

func (f *fakeLister) List(_ context.Context, limit int) ([]models.DocumentRecord, error) {
	f.limit = limit
	return f.docs, f.err
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T, filename, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func chatRequestBody(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeDetail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	return body["detail"]
}

func TestHealth(t *testing.T) {
	h := New(&fakePipeline{}, nil, 1).Router()

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestUpload_PDF(t *testing.T) {
	p := &fakePipeline{}
	h := New(p, nil, 1).Router()

	rr := do(t, h, uploadRequest(t, "geo.pdf", "application/pdf", []byte("%PDF-1.4 body")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp models.UploadResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.DocumentID != "geo.pdf-3" || resp.ChunksIndexed != 3 {
		t.Errorf("response = %+v", resp)
	}
	if len(p.ingested) != 1 || string(p.data) != "%PDF-1.4 body" {
		t.Errorf("pipeline got %v / %q", p.ingested, p.data)
	}
}

func TestUpload_NonPDFRejectedBeforeIngest(t *testing.T) {
	p := &fakePipeline{}
	h := New(p, nil, 1).Router()

	rr := do(t, h, uploadRequest(t, "notes.txt", "text/plain", []byte("hello")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeDetail(t, rr); got != "Only PDF files are supported." {
		t.Errorf("detail = %q", got)
	}
	if len(p.ingested) != 0 {
		t.Error("pipeline must not be called for non-PDF uploads")
	}
}

func TestUpload_MissingField(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := do(t, New(&fakePipeline{}, nil, 1).Router(), req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestChat_BodyTooLarge(t *testing.T) {
	p := &fakePipeline{}
	h := New(p, nil, 0).Router()

	body := `{"question": "` + strings.Repeat("a", 2<<20) + `"}`
	rr := do(t, h, chatRequestBody(body))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if detail := decodeDetail(t, rr); !strings.Contains(detail, "exceeds") {
		t.Errorf("detail = %q", detail)
	}
	if len(p.questions) != 0 {
		t.Error("pipeline must not be called for oversized chat requests")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	p := &fakePipeline{}
	h := New(p, nil, 1).Router()

	rr := do(t, h, uploadRequest(t, "big.pdf", "application/pdf", bytes.Repeat([]byte("a"), 2<<20)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(p.ingested) != 0 {
		t.Error("pipeline must not be called for oversized uploads")
	}
}

func TestUpload_InvalidPDF(t *testing.T) {
	p := &fakePipeline{err: fmt.Errorf("%w: failed to open PDF: bad header", models.ErrInput)}
	rr := do(t, New(p, nil, 1).Router(), uploadRequest(t, "bad.pdf", "application/pdf", []byte("junk")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeDetail(t, rr); !strings.Contains(got, "bad header") {
		t.Errorf("detail = %q", got)
	}
}

func TestChat(t *testing.T) {
	p := &fakePipeline{}
	h := New(p, nil, 1).Router()

	rr := do(t, h, chatRequestBody(`{"question":"What is the capital?","top_k":3}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp models.AnswerResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "Paris (p.1)" || resp.Model != "gpt-4o-mini" || len(resp.Context) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if p.questions[0].TopK != 3 {
		t.Errorf("top_k = %d, want 3", p.questions[0].TopK)
	}
}

func TestChat_DefaultTopK(t *testing.T) {
	p := &fakePipeline{}
	rr := do(t, New(p, nil, 1).Router(), chatRequestBody(`{"question":"q"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if p.questions[0].TopK != models.DefaultTopK {
		t.Errorf("top_k = %d, want %d", p.questions[0].TopK, models.DefaultTopK)
	}
}

func TestChat_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "blank question", body: `{"question":"   "}`},
		{name: "missing question", body: `{}`},
		{name: "zero top_k", body: `{"question":"q","top_k":0}`},
		{name: "negative top_k", body: `{"question":"q","top_k":-2}`},
		{name: "malformed json", body: `{"question":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{}
			rr := do(t, New(p, nil, 1).Router(), chatRequestBody(tt.body))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d", rr.Code)
			}
			if decodeDetail(t, rr) == "" {
				t.Error("expected a detail message")
			}
			if len(p.questions) != 0 {
				t.Error("pipeline must not be called")
			}
		})
	}
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "embedding", err: errors.Join(models.ErrEmbedding, errors.New("quota")), want: http.StatusBadGateway},
		{name: "generation", err: fmt.Errorf("%w: 503", models.ErrGeneration), want: http.StatusBadGateway},
		{name: "input", err: fmt.Errorf("%w: nope", models.ErrInput), want: http.StatusBadRequest},
		{name: "persistence", err: fmt.Errorf("%w: disk full", models.ErrPersistence), want: http.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, New(&fakePipeline{err: tt.err}, nil, 1).Router(), chatRequestBody(`{"question":"q"}`))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if rr.Header().Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", rr.Header().Get("Content-Type"))
			}
			if decodeDetail(t, rr) == "" {
				t.Error("expected a detail message")
			}
		})
	}
}

func TestDocuments_NoRegistry(t *testing.T) {
	rr := do(t, New(&fakePipeline{}, nil, 1).Router(), httptest.NewRequest(http.MethodGet, "/documents", http.NoBody))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestDocuments_List(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := &fakeLister{docs: []models.DocumentRecord{
		{DocumentID: "geo.pdf-3", Source: "geo.pdf", Pages: 2, Chunks: 3, CreatedAt: created},
	}}
	h := New(&fakePipeline{}, l, 1).Router()

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/documents?limit=10", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if l.limit != 10 {
		t.Errorf("limit = %d", l.limit)
	}
	var body struct {
		Documents []models.DocumentRecord `json:"documents"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Documents) != 1 || body.Documents[0].DocumentID != "geo.pdf-3" || !body.Documents[0].CreatedAt.Equal(created) {
		t.Errorf("documents = %+v", body.Documents)
	}

	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/documents", http.NoBody))
	if rr.Code != http.StatusOK || l.limit != defaultListLimit {
		t.Errorf("default limit: status %d, limit %d", rr.Code, l.limit)
	}

	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/documents?limit=abc", http.NoBody))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", rr.Code)
	}
}

func TestDocuments_EmptyListIsArray(t *testing.T) {
	h := New(&fakePipeline{}, &fakeLister{}, 1).Router()
	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/documents", http.NoBody))
	if got := strings.TrimSpace(rr.Body.String()); got != `{"documents":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestPanicReturnsJSON(t *testing.T) {
	h := New(&fakePipeline{panicMsg: "kaboom"}, nil, 1).Router()
	rr := do(t, h, uploadRequest(t, "geo.pdf", "application/pdf", []byte("%PDF")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if decodeDetail(t, rr) == "" {
		t.Error("expected a detail message")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(&fakePipeline{}, nil, 1).Router()
	do(t, h, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pdfrag_http_requests_total") {
		t.Error("expected HTTP request metrics in exposition")
	}
}

func TestUnknownRoute(t *testing.T) {
	rr := do(t, New(&fakePipeline{}, nil, 1).Router(), httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
	if decodeDetail(t, rr) != "Not Found" {
		t.Error("expected JSON detail")
	}
}
