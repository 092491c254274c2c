package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/docchat/internal/backend"
	chatservice "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
	"github.com/zhouzirui/docchat/internal/storage"
)

func TestRouterRoutes(t *testing.T) {
	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })
	svc := chatservice.NewService(backend.NewClient("http://127.0.0.1:1"), storage.NewMemoryStore(nil))
	router := NewRouter(svc, bus, []string{"*"}, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/session", want: http.StatusOK},
		{method: http.MethodPost, path: "/api/documents", want: http.StatusBadRequest},
		{method: http.MethodGet, path: "/api/missing", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		assert.Equal(t, tt.want, resp.Code, "%s %s", tt.method, tt.path)
	}
}
