// Package backend talks to the chat and PDF-ingestion HTTP service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// RequestIDHeader correlates client log lines with backend logs.
const RequestIDHeader = "X-Request-ID"

// Client calls the backend endpoints. A zero timeout means requests may
// wait indefinitely, bounded only by the caller's context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every request. An injected http.Client is copied, not
// modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// History fetches the ordered transcript of a conversation. A response
// without a messages field yields a nil slice.
func (c *Client) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, ErrEmptyConversationID
	}

	endpoint := c.baseURL + "/history?" + url.Values{"conv_id": {conversationID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating history request: %w", err)
	}

	var out historyResponse
	if err := c.do(req, "/history", &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		return nil, nil
	}

	messages := make([]chat.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		if !m.Role.Valid() {
			c.logger.Warn("skipping history message with unknown role",
				zap.String("conv_id", conversationID),
				zap.String("role", string(m.Role)))
			continue
		}
		messages = append(messages, chat.Message{Role: m.Role, Text: m.Text})
	}
	return messages, nil
}

// Chat sends one user message and returns the backend reply.
func (c *Client) Chat(ctx context.Context, in ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out ChatResponse
	if err := c.do(req, "/chat", &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// UploadPDF submits a document as multipart field "file".
func (c *Client) UploadPDF(ctx context.Context, filename string, content io.Reader) (UploadResponse, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResponse{}, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := form.Close(); err != nil {
		return UploadResponse{}, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_pdf", &buf)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out UploadResponse
	if err := c.do(req, "/upload_pdf", &out); err != nil {
		return UploadResponse{}, err
	}
	return out, nil
}

// Reset asks the backend to forget a conversation, or every conversation
// when conversationID is empty. The response body is ignored.
func (c *Client) Reset(ctx context.Context, conversationID string) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if conversationID != "" {
		if err := form.WriteField("conv_id", conversationID); err != nil {
			return fmt.Errorf("writing conv_id field: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reset", &buf)
	if err != nil {
		return fmt.Errorf("creating reset request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	return c.do(req, "/reset", nil)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("endpoint", endpoint),
			zap.String("request_id", requestID),
			zap.Error(err))
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request completed",
		zap.String("endpoint", endpoint),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if encoded, err := json.Marshal(body.Detail); err == nil {
			return string(encoded)
		}
	}
	return strings.TrimSpace(string(raw))
}
