package backend

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// ErrEmptyConversationID is returned when history is requested without an id.
var ErrEmptyConversationID = errors.New("conversation id is required")

// ChatRequest is the /chat payload. Nil ids are sent as JSON null.
type ChatRequest struct {
	ConversationID *string `json:"conv_id"`
	Message        string  `json:"message"`
	DocumentID     *string `json:"pdf_id"`
}

// ChatResponse is the /chat result.
type ChatResponse struct {
	ConversationID string `json:"conv_id"`
	Reply          string `json:"reply"`
}

// UploadResponse is the /upload_pdf result. DocumentID may be empty when
// the backend accepted the request but produced no document.
type UploadResponse struct {
	DocumentID string `json:"pdf_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"num_chunks"`
}

// UploadInfo converts the response into session metadata.
func (r UploadResponse) UploadInfo() chat.UploadInfo {
	return chat.UploadInfo{
		DocumentID: r.DocumentID,
		Filename:   r.Filename,
		ChunkCount: r.ChunkCount,
	}
}

type historyResponse struct {
	Messages []chat.Message `json:"messages"`
}

type errorBody struct {
	Detail any `json:"detail"`
}

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Detail)
}

// Optional turns an empty id into a JSON null.
func Optional(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
