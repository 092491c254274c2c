package events

import (
	"time"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// Type names a session state transition.
type Type string

const (
	TypeRestored        Type = "restored"
	TypeInputChanged    Type = "input_changed"
	TypeFileSelected    Type = "file_selected"
	TypeMessageSent     Type = "message_sent"
	TypeReplyReceived   Type = "reply_received"
	TypeChatFailed      Type = "chat_failed"
	TypeUploadSucceeded Type = "upload_succeeded"
	TypeUploadFailed    Type = "upload_failed"
	TypeNotice          Type = "notice"
	TypeReset           Type = "reset"
)

// Event carries the state after a transition. Seq is monotonic per client;
// observers drop events older than the last one they applied.
type Event struct {
	Type       Type          `json:"type"`
	Seq        uint64        `json:"seq"`
	Snapshot   chat.Snapshot `json:"snapshot"`
	Notice     *chat.Notice  `json:"notice,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}
