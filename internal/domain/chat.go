package domain

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session represents a conversation thread
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message represents one persisted turn of a session
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user, assistant, system
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PromptMessage is one entry of the prompt sent upstream
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body of /chat-stream
type ChatRequest struct {
	Message   string   `json:"message"`
	SessionID string   `json:"session_id"`
	UsePDF    bool     `json:"use_pdf"`
	PDFIDs    []string `json:"pdf_ids"`
}

// StreamChunk is one SSE frame sent to the client
type StreamChunk struct {
	Content *string `json:"content,omitempty"`
	Error   string  `json:"error,omitempty"`
	Done    bool    `json:"done"`
}

// ContentChunk builds a content frame
func ContentChunk(content string, done bool) StreamChunk {
	return StreamChunk{Content: &content, Done: done}
}

// ErrorChunk builds an error frame
func ErrorChunk(msg string, done bool) StreamChunk {
	return StreamChunk{Error: msg, Done: done}
}

// HistoryMessage is a message as returned by GET /sessions/:id
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionResponse is the response of GET /sessions/:id
type SessionResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []HistoryMessage `json:"messages"`
}

// SessionListResponse is the response of GET /sessions
type SessionListResponse struct {
	Sessions      []string `json:"sessions"`
	TotalSessions int      `json:"total_sessions"`
}

// Health represents the /health document
type Health struct {
	Status               string    `json:"status"`
	Timestamp            time.Time `json:"timestamp"`
	DatabaseStatus       string    `json:"database_status"`
	PDFCacheSize         int       `json:"pdf_cache_size"`
	PDFCacheNote         string    `json:"pdf_cache_note"`
	EmbeddingModelStatus string    `json:"embedding_model_status"`
}
