package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/handler/chat"
	"github.com/zhouzirui/docchat/internal/handler/stream"
	"github.com/zhouzirui/docchat/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/docchat/internal/middleware"
	chatService "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
	"github.com/zhouzirui/docchat/pkg/utils"
)

// NewRouter wires the local HTTP surface to the session client.
func NewRouter(chatSvc *chatService.Service, subscriber events.Subscriber, allowedOrigins []string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins...))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := chat.New(chatSvc, logger.Named("http"))
	streamHandler := stream.New(chatSvc, subscriber, logger.Named("sse"))
	wsHandler := ws.NewWebSocketHandler(chatSvc, subscriber, logger.Named("ws"), allowedOrigins...)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		api.Method(http.MethodGet, "/events", streamHandler)
		wsHandler.RegisterWebSocketRoutes(api)
	})

	return r
}
