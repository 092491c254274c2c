package chat

// Session holds the identifier pair that survives a reload.
// An empty string means the backend has not assigned the value yet.
type Session struct {
	ConversationID string `json:"convId,omitempty"`
	DocumentID     string `json:"pdfId,omitempty"`
}

// HasConversation reports whether the backend already established a conversation.
func (s Session) HasConversation() bool {
	return s.ConversationID != ""
}

// HasDocument reports whether chat requests should be scoped to a document.
func (s Session) HasDocument() bool {
	return s.DocumentID != ""
}

// NoticeLevel grades a user-visible alert.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is an alert the presentation layer shows to the user.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

// Snapshot is a read-only copy of the session client state.
type Snapshot struct {
	Seq          uint64      `json:"seq"`
	Session      Session     `json:"session"`
	Messages     []Message   `json:"messages"`
	Upload       *UploadInfo `json:"upload,omitempty"`
	Input        string      `json:"input"`
	SelectedFile string      `json:"selectedFile,omitempty"`
	Notice       *Notice     `json:"notice,omitempty"`
	Sending      bool        `json:"sending"`
	Uploading    bool        `json:"uploading"`
	Resetting    bool        `json:"resetting"`
}

// UploadStatus returns the upload-status line for the snapshot.
func (s Snapshot) UploadStatus() string {
	if s.Upload == nil {
		return NoUploadLine
	}
	return s.Upload.StatusLine()
}
