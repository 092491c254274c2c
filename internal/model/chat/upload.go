package chat

import "fmt"

// NoUploadLine is shown while no document is attached to the session.
const NoUploadLine = "No PDF uploaded"

// UploadInfo describes the last successfully ingested document.
// After a reload only DocumentID is known; the backend offers no lookup by id.
type UploadInfo struct {
	DocumentID string `json:"pdf_id"`
	Filename   string `json:"filename,omitempty"`
	ChunkCount int    `json:"num_chunks,omitempty"`
}

// Restored reports whether the metadata came from a bare persisted id.
func (u UploadInfo) Restored() bool {
	return u.Filename == "" && u.ChunkCount == 0
}

// StatusLine renders the upload-status text.
func (u UploadInfo) StatusLine() string {
	if u.Restored() {
		return fmt.Sprintf("📄 document %s", u.DocumentID)
	}
	return fmt.Sprintf("📄 %s\n🔹 %d chunks indexed", u.Filename, u.ChunkCount)
}
