package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/model/chat"
	chatService "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/pkg/utils"
)

// maxUploadBytes 限制单个 PDF 的大小
const maxUploadBytes = 32 << 20

// Handler 会话客户端的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New 创建会话处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleGetSession)
	r.Put("/session/input", h.handleSetInput)
	r.Post("/messages", h.handleSendMessage)
	r.Post("/documents", h.handleUploadDocument)
	r.Post("/reset", h.handleReset)
}

type inputPayload struct {
	Text *string `json:"text"`
}

// handleGetSession 返回当前会话快照
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Snapshot())
}

// handleSetInput 更新待发送的输入
func (h *Handler) handleSetInput(w http.ResponseWriter, r *http.Request) {
	var payload inputPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Text == nil {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	h.chatSvc.SetInput(r.Context(), *payload.Text)
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Snapshot())
}

// handleSendMessage 发送消息；请求体中的 text 会先替换待发送输入
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload inputPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 浏览器断开不会取消已发出的后端请求
	ctx := context.WithoutCancel(r.Context())
	if payload.Text != nil {
		h.chatSvc.SetInput(ctx, *payload.Text)
	}

	h.respondResult(w, h.chatSvc.Send(ctx))
}

// handleUploadDocument 上传 PDF；表单字段 file 即文件选择
func (h *Handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	selection, err := readSelection(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.chatSvc.SelectFile(ctx, selection)
	_, err = h.chatSvc.Upload(ctx)
	h.respondResult(w, err)
}

// handleReset 重置会话
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	err := h.chatSvc.Reset(context.WithoutCancel(r.Context()))
	h.respondResult(w, err)
}

func readSelection(r *http.Request) (*chat.File, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, errors.New("invalid multipart body")
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("invalid file field")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("failed to read uploaded file")
	}
	return chat.FileFromBytes(header.Filename, data)
}

// respondResult 将服务层错误映射为状态码，并始终附带最新快照
func (h *Handler) respondResult(w http.ResponseWriter, err error) {
	snapshot := h.chatSvc.Snapshot()

	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, snapshot)
	case errors.Is(err, chatService.ErrStaleResponse):
		utils.RespondErrorWith(w, http.StatusAccepted, err.Error(), snapshot)
	case errors.Is(err, chatService.ErrChatInFlight),
		errors.Is(err, chatService.ErrUploadInFlight),
		errors.Is(err, chatService.ErrResetInFlight):
		utils.RespondErrorWith(w, http.StatusConflict, err.Error(), snapshot)
	case errors.Is(err, chatService.ErrNoFileSelected):
		utils.RespondErrorWith(w, http.StatusBadRequest, err.Error(), snapshot)
	case errors.Is(err, chatService.ErrNoDocumentID):
		utils.RespondErrorWith(w, http.StatusBadGateway, err.Error(), snapshot)
	default:
		h.logger.Warn("session operation failed", zap.Error(err))
		utils.RespondErrorWith(w, http.StatusBadGateway, err.Error(), snapshot)
	}
}
