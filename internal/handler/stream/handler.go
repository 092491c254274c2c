package stream

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
	"github.com/zhouzirui/docchat/pkg/utils"
)

// heartbeatInterval keeps idle proxies from closing the stream.
const heartbeatInterval = 15 * time.Second

// SnapshotSource yields the state a new observer starts from.
type SnapshotSource interface {
	Snapshot() chat.Snapshot
}

// Handler streams session events via Server-Sent Events
type Handler struct {
	source     SnapshotSource
	subscriber events.Subscriber
	logger     *zap.Logger
	heartbeat  time.Duration
}

// New creates a new stream handler
func New(source SnapshotSource, subscriber events.Subscriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		source:     source,
		subscriber: subscriber,
		logger:     logger,
		heartbeat:  heartbeatInterval,
	}
}

// ServeHTTP sends the current snapshot, then every newer event until the
// client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	stream, err := h.subscriber.Subscribe(ctx)
	if err != nil {
		h.logger.Error("subscribe failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	snapshot := h.source.Snapshot()
	lastSeq := snapshot.Seq
	if err := utils.SendSSEEvent(w, flusher, snapshot.Seq, "snapshot", snapshot); err != nil {
		return
	}

	h.logger.Debug("sse stream opened", zap.Uint64("seq", lastSeq))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sse stream closed", zap.Uint64("seq", lastSeq))
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case evt, ok := <-stream:
			if !ok {
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			lastSeq = evt.Seq
			if err := utils.SendSSEEvent(w, flusher, evt.Seq, string(evt.Type), evt); err != nil {
				return
			}
		}
	}
}
