package chat

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/internal/backend"
	"github.com/zhouzirui/docchat/internal/model/chat"
	chatservice "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/internal/storage"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"conv_id":"c1","reply":"hi there"}`)
	})
	mux.HandleFunc("/upload_pdf", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"pdf_id":"d1","filename":"a.pdf","num_chunks":3}`)
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore(nil)
	chatSvc := chatservice.NewService(backend.NewClient(fakeBackend(t).URL), store)
	handler := New(chatSvc, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc, store
}

func decodeSnapshot(t *testing.T, body io.Reader) chat.Snapshot {
	t.Helper()
	var snap chat.Snapshot
	require.NoError(t, json.NewDecoder(body).Decode(&snap))
	return snap
}

func TestSendMessage(t *testing.T) {
	r, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	snap := decodeSnapshot(t, resp.Body)
	assert.Equal(t, []chat.Message{chat.UserMessage("hello"), chat.AssistantMessage("hi there")}, snap.Messages)
	assert.Equal(t, "c1", snap.Session.ConversationID)
}

func TestSendPendingInput(t *testing.T) {
	r, svc, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/session/input", strings.NewReader(`{"text":"draft"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "draft", svc.Snapshot().Input)

	req = httptest.NewRequest(http.MethodPost, "/messages", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, svc.Snapshot().Messages, 2)
}

func TestSetInputRequiresText(t *testing.T) {
	r, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/session/input", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSendWhitespaceIsNoop(t *testing.T) {
	r, svc, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"text":"   "}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, svc.Snapshot().Messages)
}

func TestUploadDocument(t *testing.T) {
	r, svc, _ := setupRouter(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "a.pdf")
	require.NoError(t, err)
	part.Write([]byte("%PDF-1.4"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	snap := decodeSnapshot(t, resp.Body)
	require.NotNil(t, snap.Upload)
	assert.Equal(t, "d1", snap.Session.DocumentID)
	assert.Contains(t, snap.UploadStatus(), "a.pdf")
	assert.Contains(t, snap.UploadStatus(), "3")
	assert.Equal(t, "a.pdf", svc.Snapshot().SelectedFile)
}

func TestUploadWithoutFile(t *testing.T) {
	r, svc, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/documents", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	snap := svc.Snapshot()
	require.NotNil(t, snap.Notice)
	assert.Equal(t, chatservice.NoticeSelectFile, snap.Notice.Text)
}

func TestResetClearsSession(t *testing.T) {
	r, svc, store := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"text":"hello"}`))
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.Len(t, svc.Snapshot().Messages, 2)

	req = httptest.NewRequest(http.MethodPost, "/reset", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	snap := decodeSnapshot(t, resp.Body)
	assert.Empty(t, snap.Messages)
	_, ok, err := store.Get(req.Context(), storage.KeyConversationID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendFailureMapsToBadGateway(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	chatSvc := chatservice.NewService(backend.NewClient("http://127.0.0.1:1"), store)
	r := chi.NewRouter()
	New(chatSvc, nil).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"text":"hello"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Equal(t, []chat.Message{chat.UserMessage("hello")}, chatSvc.Snapshot().Messages)
}
