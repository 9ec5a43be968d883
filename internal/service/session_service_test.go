package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liliang-cn/docchat/internal/domain"
	"github.com/liliang-cn/docchat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedSize int

func (f fixedSize) Len() int { return int(f) }

// downStore fails every call the way a closed database would
type downStore struct{}

func (downStore) ListMessages(context.Context, string) ([]*domain.Message, error) {
	return nil, domain.ErrStorage
}
func (downStore) DeleteSession(context.Context, string) error { return domain.ErrStorage }
func (downStore) ListSessionIDs(context.Context) ([]string, error) { return nil, domain.ErrStorage }
func (downStore) Ping(context.Context) error { return errors.New("database is closed") }

func newSessionService(t *testing.T) (*SessionService, *repository.SessionRepository) {
	t.Helper()
	db, err := repository.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.NewSessionRepository(db)
	return NewSessionService(repo, fixedSize(3), zap.NewNop()), repo
}

func seed(t *testing.T, repo *repository.SessionRepository, sessionID string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.EnsureSession(ctx, sessionID))
	for i, c := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		require.NoError(t, repo.AppendMessage(ctx, &domain.Message{SessionID: sessionID, Role: role, Content: c}))
	}
}

func TestSessionGet(t *testing.T) {
	svc, repo := newSessionService(t)
	seed(t, repo, "s1", "question", "answer")

	resp, err := svc.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.SessionID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, domain.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, "question", resp.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, resp.Messages[1].Role)
	assert.False(t, resp.Messages[1].Timestamp.Before(resp.Messages[0].Timestamp))
}

func TestSessionGetUnknownOrEmpty(t *testing.T) {
	svc, repo := newSessionService(t)
	seed(t, repo, "empty")

	for _, id := range []string{"missing", "empty"} {
		_, err := svc.Get(context.Background(), id)
		assert.True(t, errors.Is(err, domain.ErrNotFound), id)
		assert.Equal(t, "Session not found or no messages.", err.Error())
	}
}

func TestSessionDeleteAndList(t *testing.T) {
	svc, repo := newSessionService(t)
	seed(t, repo, "a", "one")
	seed(t, repo, "b", "two")

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list.Sessions)
	assert.Equal(t, 2, list.TotalSessions)

	require.NoError(t, svc.Delete(context.Background(), "a"))
	require.NoError(t, svc.Delete(context.Background(), "a"))
	require.NoError(t, svc.Delete(context.Background(), "never-existed"))

	list, err = svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, list.Sessions)

	_, err = svc.Get(context.Background(), "a")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSessionListEmpty(t *testing.T) {
	svc, _ := newSessionService(t)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list.Sessions)
	assert.Equal(t, 0, list.TotalSessions)
}

func TestHealth(t *testing.T) {
	svc, _ := newSessionService(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	h := svc.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, now, h.Timestamp)
	assert.Equal(t, "connected", h.DatabaseStatus)
	assert.Equal(t, 3, h.PDFCacheSize)
	assert.Equal(t, "N/A (RAG and embedding model not used)", h.EmbeddingModelStatus)
	assert.NotEmpty(t, h.PDFCacheNote)
}

func TestHealthReportsDatabaseError(t *testing.T) {
	svc := NewSessionService(downStore{}, fixedSize(0), zap.NewNop())

	h := svc.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "error: database is closed", h.DatabaseStatus)

	_, err := svc.List(context.Background())
	assert.True(t, errors.Is(err, domain.ErrStorage))
}
