package service

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/docchat/internal/domain"
	"go.uber.org/zap"
)

const (
	healthStatus         = "healthy"
	embeddingModelStatus = "N/A (RAG and embedding model not used)"
	healthPDFCacheNote   = "PDFs are stored temporarily in memory and are lost on server restart."
)

// SessionStore is the part of the conversation store the history endpoints need
type SessionStore interface {
	ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessionIDs(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// CacheSizer reports how many documents are cached
type CacheSizer interface {
	Len() int
}

// SessionService handles session history and health reporting
type SessionService struct {
	store  SessionStore
	cache  CacheSizer
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(store SessionStore, cache CacheSizer, logger *zap.Logger) *SessionService {
	return &SessionService{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the stored history of a session. A session without messages
// is reported as not found.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.SessionResponse, error) {
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, domain.Detailed(domain.ErrNotFound, "Session not found or no messages.")
	}

	resp := &domain.SessionResponse{
		SessionID: id,
		Messages:  make([]domain.HistoryMessage, 0, len(messages)),
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, domain.HistoryMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return resp, nil
}

// Delete removes a session and its messages. Unknown ids are not an error.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// List returns every known session id
func (s *SessionService) List(ctx context.Context) (*domain.SessionListResponse, error) {
	ids, err := s.store.ListSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.SessionListResponse{
		Sessions:      ids,
		TotalSessions: len(ids),
	}, nil
}

// Health reports liveness. A failing database is reported in the body,
// never as an error.
func (s *SessionService) Health(ctx context.Context) *domain.Health {
	dbStatus := "connected"
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check: database unavailable", zap.Error(err))
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return &domain.Health{
		Status:               healthStatus,
		Timestamp:            s.now(),
		DatabaseStatus:       dbStatus,
		PDFCacheSize:         s.cache.Len(),
		PDFCacheNote:         healthPDFCacheNote,
		EmbeddingModelStatus: embeddingModelStatus,
	}
}
