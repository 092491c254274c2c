package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/backend"
	"github.com/zhouzirui/docchat/internal/model/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
	"github.com/zhouzirui/docchat/internal/storage"
)

var (
	ErrNoFileSelected = errors.New("no file selected")
	ErrNoDocumentID   = errors.New("upload returned no pdf_id")
	ErrChatInFlight   = errors.New("a message is already being sent")
	ErrUploadInFlight = errors.New("an upload is already in progress")
	ErrResetInFlight  = errors.New("a reset is already in progress")
	// ErrStaleResponse marks a response that arrived after a reset and was dropped.
	ErrStaleResponse = errors.New("response belongs to a session that was reset")
)

// User-visible notices.
const (
	NoticeSelectFile     = "Please select a PDF first."
	NoticeUploadOK       = "PDF uploaded successfully!"
	NoticeUploadNoID     = "Failed to upload PDF. No pdf_id returned."
	NoticeUploadFailed   = "Upload failed. Check backend logs."
	NoticeChatFailed     = "Message could not be delivered. Try sending it again."
	NoticeRestoreFailed  = "Could not load the previous conversation."
	NoticeStorageFailure = "Session could not be saved locally."
)

// Backend is the collaborator the client drives.
type Backend interface {
	History(ctx context.Context, conversationID string) ([]chat.Message, error)
	Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error)
	UploadPDF(ctx context.Context, filename string, content io.Reader) (backend.UploadResponse, error)
	Reset(ctx context.Context, conversationID string) error
}

// Operation is a class of network call guarded by its own in-flight flag.
type Operation string

const (
	OpChat   Operation = "chat"
	OpUpload Operation = "upload"
	OpReset  Operation = "reset"
)

// Service is the session client. It owns the conversation and document ids,
// the transcript and the last upload metadata; its methods are the only
// mutators. Observers follow along through the event publisher.
type Service struct {
	backend   Backend
	store     storage.Store
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	session    chat.Session
	transcript []chat.Message
	upload     *chat.UploadInfo
	input      string
	selected   *chat.File
	notice     *chat.Notice
	// inFlight maps an operation to the sequence number of the call holding it.
	inFlight map[Operation]uint64
	// epoch advances on every reset; responses from older epochs are dropped.
	epoch uint64
	seq   uint64
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher wires an observer bus.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService bootstraps a session client with empty in-memory state.
// Call Restore to load what the store remembers.
func NewService(b Backend, store storage.Store, opts ...Option) *Service {
	s := &Service{
		backend:    b,
		store:      store,
		logger:     zap.NewNop(),
		now:        time.Now,
		transcript: make([]chat.Message, 0, 16),
		inFlight:   make(map[Operation]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the persisted ids. When a conversation id is stored its
// history replaces the transcript; a stored document id is surfaced as
// id-only upload metadata.
func (s *Service) Restore(ctx context.Context) error {
	convID, _, err := s.store.Get(ctx, storage.KeyConversationID)
	if err != nil {
		return fmt.Errorf("read %s: %w", storage.KeyConversationID, err)
	}
	docID, _, err := s.store.Get(ctx, storage.KeyDocumentID)
	if err != nil {
		return fmt.Errorf("read %s: %w", storage.KeyDocumentID, err)
	}

	s.mu.Lock()
	s.session = chat.Session{ConversationID: convID, DocumentID: docID}
	if docID != "" {
		s.upload = &chat.UploadInfo{DocumentID: docID}
	}
	epoch := s.epoch
	s.mu.Unlock()

	if convID != "" {
		messages, err := s.backend.History(ctx, convID)
		if err != nil {
			s.logger.Warn("history fetch failed", zap.String("conv_id", convID), zap.Error(err))
			evt := s.commit(events.TypeNotice, func() {
				s.notice = &chat.Notice{Level: chat.NoticeError, Text: NoticeRestoreFailed}
			})
			s.emit(ctx, evt)
			return fmt.Errorf("restore history: %w", err)
		}

		var stale bool
		evt := s.commit(events.TypeRestored, func() {
			if epoch != s.epoch {
				stale = true
				return
			}
			if messages != nil {
				s.transcript = append(make([]chat.Message, 0, len(messages)), messages...)
			}
		})
		if stale {
			return ErrStaleResponse
		}
		s.emit(ctx, evt)
		s.logger.Info("conversation restored", zap.String("conv_id", convID), zap.Int("messages", len(messages)))
		return nil
	}

	s.emit(ctx, s.commit(events.TypeRestored, nil))
	return nil
}

// SetInput replaces the pending input text.
func (s *Service) SetInput(ctx context.Context, text string) {
	s.emit(ctx, s.commit(events.TypeInputChanged, func() { s.input = text }))
}

// Send submits the pending input. Whitespace-only input is ignored. The user
// message is appended before the request is issued; the reply is appended
// when it arrives. Failures keep the user message and raise an error notice.
func (s *Service) Send(ctx context.Context) error {
	s.mu.Lock()
	text := s.input
	if strings.TrimSpace(text) == "" {
		s.mu.Unlock()
		return nil
	}
	if s.inFlight[OpChat] != 0 {
		s.mu.Unlock()
		return ErrChatInFlight
	}

	seq := s.nextSeqLocked()
	epoch := s.epoch
	s.inFlight[OpChat] = seq
	s.transcript = append(s.transcript, chat.UserMessage(text))
	s.input = ""
	s.notice = nil
	req := backend.ChatRequest{
		ConversationID: backend.Optional(s.session.ConversationID),
		Message:        text,
		DocumentID:     backend.Optional(s.session.DocumentID),
	}
	sent := s.eventLocked(events.TypeMessageSent, seq)
	s.mu.Unlock()
	s.emit(ctx, sent)

	resp, err := s.backend.Chat(ctx, req)

	s.mu.Lock()
	s.releaseLocked(OpChat, seq)
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Info("dropping chat response from before reset", zap.Uint64("seq", seq))
		return ErrStaleResponse
	}
	if err != nil {
		s.notice = &chat.Notice{Level: chat.NoticeError, Text: NoticeChatFailed}
		failed := s.eventLocked(events.TypeChatFailed, s.nextSeqLocked())
		s.mu.Unlock()
		s.logger.Warn("chat request failed", zap.Uint64("seq", seq), zap.Error(err))
		s.emit(ctx, failed)
		return fmt.Errorf("send message: %w", err)
	}

	var persistErr error
	if resp.ConversationID != "" {
		s.session.ConversationID = resp.ConversationID
		if persistErr = s.store.Set(ctx, storage.KeyConversationID, resp.ConversationID); persistErr != nil {
			s.notice = &chat.Notice{Level: chat.NoticeWarning, Text: NoticeStorageFailure}
		}
	}
	s.transcript = append(s.transcript, chat.AssistantMessage(resp.Reply))
	received := s.eventLocked(events.TypeReplyReceived, s.nextSeqLocked())
	s.mu.Unlock()

	if persistErr != nil {
		s.logger.Error("persist conversation id failed", zap.String("conv_id", resp.ConversationID), zap.Error(persistErr))
	}
	s.emit(ctx, received)
	return nil
}

// SelectFile records the file-picker selection. Nil clears it.
func (s *Service) SelectFile(ctx context.Context, f *chat.File) {
	s.emit(ctx, s.commit(events.TypeFileSelected, func() { s.selected = f }))
}

// Upload sends the selected file to the ingestion endpoint. On success the
// returned document id is adopted and persisted; otherwise state is untouched.
func (s *Service) Upload(ctx context.Context) (chat.UploadInfo, error) {
	s.mu.Lock()
	file := s.selected
	if file == nil {
		s.notice = &chat.Notice{Level: chat.NoticeWarning, Text: NoticeSelectFile}
		evt := s.eventLocked(events.TypeNotice, s.nextSeqLocked())
		s.mu.Unlock()
		s.emit(ctx, evt)
		return chat.UploadInfo{}, ErrNoFileSelected
	}
	if s.inFlight[OpUpload] != 0 {
		s.mu.Unlock()
		return chat.UploadInfo{}, ErrUploadInFlight
	}
	seq := s.nextSeqLocked()
	epoch := s.epoch
	s.inFlight[OpUpload] = seq
	s.mu.Unlock()

	resp, err := s.uploadFile(ctx, file)

	s.mu.Lock()
	s.releaseLocked(OpUpload, seq)
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Info("dropping upload response from before reset", zap.Uint64("seq", seq))
		return chat.UploadInfo{}, ErrStaleResponse
	}
	if err != nil || resp.DocumentID == "" {
		var text string
		if err == nil {
			text = NoticeUploadNoID
			err = ErrNoDocumentID
		} else {
			text = uploadFailureNotice(err)
		}
		s.notice = &chat.Notice{Level: chat.NoticeError, Text: text}
		evt := s.eventLocked(events.TypeUploadFailed, s.nextSeqLocked())
		s.mu.Unlock()
		s.logger.Warn("upload failed", zap.String("filename", file.Name), zap.Error(err))
		s.emit(ctx, evt)
		return chat.UploadInfo{}, fmt.Errorf("upload %s: %w", file.Name, err)
	}

	info := resp.UploadInfo()
	s.session.DocumentID = info.DocumentID
	s.upload = &info
	s.notice = &chat.Notice{Level: chat.NoticeInfo, Text: NoticeUploadOK}
	persistErr := s.store.Set(ctx, storage.KeyDocumentID, info.DocumentID)
	evt := s.eventLocked(events.TypeUploadSucceeded, s.nextSeqLocked())
	s.mu.Unlock()

	if persistErr != nil {
		s.logger.Error("persist document id failed", zap.String("pdf_id", info.DocumentID), zap.Error(persistErr))
	}
	s.logger.Info("document uploaded",
		zap.String("pdf_id", info.DocumentID),
		zap.String("filename", info.Filename),
		zap.Int("chunks", info.ChunkCount))
	s.emit(ctx, evt)
	return info, nil
}

// uploadFailureNotice surfaces the backend's reason when it gave one.
func uploadFailureNotice(err error) string {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) && statusErr.Detail != "" {
		return "Upload failed: " + statusErr.Detail
	}
	return NoticeUploadFailed
}

func (s *Service) uploadFile(ctx context.Context, file *chat.File) (backend.UploadResponse, error) {
	content, err := file.Open()
	if err != nil {
		return backend.UploadResponse{}, err
	}
	defer content.Close()
	return s.backend.UploadPDF(ctx, file.Name, content)
}

// Reset tells the backend to forget the conversation, then clears all local
// state and both persisted keys regardless of the backend's answer. Requests
// still in flight are not aborted, but their responses will be discarded.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight[OpReset] != 0 {
		s.mu.Unlock()
		return ErrResetInFlight
	}
	seq := s.nextSeqLocked()
	s.inFlight[OpReset] = seq
	convID := s.session.ConversationID
	s.mu.Unlock()

	if err := s.backend.Reset(ctx, convID); err != nil {
		s.logger.Warn("backend reset failed", zap.String("conv_id", convID), zap.Error(err))
	}

	s.mu.Lock()
	s.epoch++
	s.inFlight = make(map[Operation]uint64)
	s.session = chat.Session{}
	s.transcript = make([]chat.Message, 0, 16)
	s.upload = nil
	s.input = ""
	s.selected = nil
	s.notice = nil
	removeErr := s.store.Remove(ctx, storage.KeyConversationID, storage.KeyDocumentID)
	if removeErr != nil {
		s.notice = &chat.Notice{Level: chat.NoticeWarning, Text: NoticeStorageFailure}
	}
	evt := s.eventLocked(events.TypeReset, s.nextSeqLocked())
	s.mu.Unlock()

	s.emit(ctx, evt)
	if removeErr != nil {
		s.logger.Error("clear persisted session failed", zap.Error(removeErr))
		return fmt.Errorf("clear persisted session: %w", removeErr)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() chat.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() chat.Snapshot {
	snap := chat.Snapshot{
		Seq:       s.seq,
		Session:   s.session,
		Messages:  append([]chat.Message(nil), s.transcript...),
		Input:     s.input,
		Sending:   s.inFlight[OpChat] != 0,
		Uploading: s.inFlight[OpUpload] != 0,
		Resetting: s.inFlight[OpReset] != 0,
	}
	if snap.Messages == nil {
		snap.Messages = []chat.Message{}
	}
	if s.upload != nil {
		info := *s.upload
		snap.Upload = &info
	}
	if s.selected != nil {
		snap.SelectedFile = s.selected.Name
	}
	if s.notice != nil {
		n := *s.notice
		snap.Notice = &n
	}
	return snap
}

// commit applies mutate under the lock and returns the resulting event.
func (s *Service) commit(typ events.Type, mutate func()) events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mutate != nil {
		mutate()
	}
	return s.eventLocked(typ, s.nextSeqLocked())
}

func (s *Service) eventLocked(typ events.Type, seq uint64) events.Event {
	snap := s.snapshotLocked()
	snap.Seq = seq
	return events.Event{
		Type:       typ,
		Seq:        seq,
		Snapshot:   snap,
		Notice:     snap.Notice,
		OccurredAt: s.now().UTC(),
	}
}

func (s *Service) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// releaseLocked frees an in-flight slot if seq still owns it. A reset may
// already have handed the slot to a newer call.
func (s *Service) releaseLocked(op Operation, seq uint64) {
	if s.inFlight[op] == seq {
		delete(s.inFlight, op)
	}
}

func (s *Service) emit(ctx context.Context, evt events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}
