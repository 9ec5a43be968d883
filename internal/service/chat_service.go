package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liliang-cn/docchat/internal/domain"
	"github.com/liliang-cn/docchat/internal/llm"
	"github.com/liliang-cn/docchat/internal/metrics"
	"go.uber.org/zap"
)

// ChatState is a step of a chat turn
type ChatState string

// Chat turn states
const (
	StateStart        ChatState = "START"
	StateSessionReady ChatState = "SESSION_READY"
	StateContextBuilt ChatState = "CONTEXT_BUILT"
	StateStreaming    ChatState = "STREAMING"
	StateFinalizing   ChatState = "FINALIZING"
	StateDone         ChatState = "DONE"
	StateError        ChatState = "ERROR"
)

// DefaultFinalizeTimeout bounds the history write after a stream ends
const DefaultFinalizeTimeout = 10 * time.Second

// ChatStore is the part of the conversation store a chat turn needs
type ChatStore interface {
	EnsureSession(ctx context.Context, id string) error
	ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)
	AppendMessage(ctx context.Context, message *domain.Message) error
}

// EmitFunc delivers one frame to the client. An error means the client is
// gone and no further frames should be sent.
type EmitFunc func(chunk domain.StreamChunk) error

// ChatService runs streaming chat turns
type ChatService struct {
	store           ChatStore
	builder         *ContextBuilder
	streamer        llm.Streamer
	metrics         *metrics.Metrics
	logger          *zap.Logger
	finalizeTimeout time.Duration
	now             func() time.Time
}

// NewChatService creates a new chat service
func NewChatService(
	store ChatStore,
	builder *ContextBuilder,
	streamer llm.Streamer,
	m *metrics.Metrics,
	logger *zap.Logger,
	finalizeTimeout time.Duration,
) *ChatService {
	if finalizeTimeout <= 0 {
		finalizeTimeout = DefaultFinalizeTimeout
	}
	return &ChatService{
		store:           store,
		builder:         builder,
		streamer:        streamer,
		metrics:         m,
		logger:          logger,
		finalizeTimeout: finalizeTimeout,
		now:             time.Now,
	}
}

// ChatTurn is one request moving through the chat state machine
type ChatTurn struct {
	svc    *ChatService
	logger *zap.Logger

	sessionID string
	user      *domain.Message
	prompt    *Prompt

	mu       sync.Mutex
	state    ChatState
	response strings.Builder
	outcome  string
	once     sync.Once
}

// Prepare loads the session and assembles the prompt. Errors here happen
// before anything is streamed and are returned to the caller as-is.
func (s *ChatService) Prepare(ctx context.Context, req *domain.ChatRequest) (*ChatTurn, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.Detailed(domain.ErrInvalidRequest, "session_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.Detailed(domain.ErrInvalidRequest, "message is required")
	}

	turn := &ChatTurn{
		svc:       s,
		logger:    s.logger.With(zap.String("session_id", req.SessionID)),
		sessionID: req.SessionID,
		state:     StateStart,
	}

	if err := s.store.EnsureSession(ctx, req.SessionID); err != nil {
		turn.transition(StateError)
		return nil, fmt.Errorf("could not initiate chat stream: %w", err)
	}
	history, err := s.store.ListMessages(ctx, req.SessionID)
	if err != nil {
		turn.transition(StateError)
		return nil, fmt.Errorf("could not initiate chat stream: %w", err)
	}
	turn.transition(StateSessionReady)

	turn.user = &domain.Message{
		SessionID: req.SessionID,
		Role:      domain.RoleUser,
		Content:   req.Message,
		Timestamp: s.now(),
	}

	turn.prompt = s.builder.Build(PromptInput{
		UsePDF:      req.UsePDF,
		PDFIDs:      req.PDFIDs,
		History:     history,
		UserMessage: req.Message,
	})
	s.metrics.PromptTokens.WithLabelValues("pdf").Observe(float64(turn.prompt.PDFTokens))
	s.metrics.PromptTokens.WithLabelValues("history").Observe(float64(turn.prompt.HistoryTokens))
	turn.transition(StateContextBuilt)

	turn.logger.Debug("prompt assembled",
		zap.Int("messages", len(turn.prompt.Messages)),
		zap.Int("history_loaded", len(history)),
		zap.Int("history_included", turn.prompt.HistoryIncluded),
		zap.Int("pdf_tokens", turn.prompt.PDFTokens),
		zap.Int("history_tokens", turn.prompt.HistoryTokens),
	)

	return turn, nil
}

// State returns the current state of the turn
func (t *ChatTurn) State() ChatState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Prompt returns the assembled prompt
func (t *ChatTurn) Prompt() *Prompt {
	return t.prompt
}

// Response returns what has been accumulated for the assistant message
func (t *ChatTurn) Response() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response.String()
}

func (t *ChatTurn) transition(next ChatState) {
	t.mu.Lock()
	prev := t.state
	t.state = next
	t.mu.Unlock()
	t.logger.Debug("chat state", zap.String("from", string(prev)), zap.String("to", string(next)))
}

// Run relays the upstream stream to emit and persists the turn when the
// stream ends, however it ends. Frames stop as soon as emit fails, but the
// history write still happens.
func (t *ChatTurn) Run(ctx context.Context, emit EmitFunc) {
	clientGone := false
	defer t.finalize(ctx, emit, &clientGone)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.transition(StateStreaming)
	t.svc.metrics.StreamsInFlight.Inc()
	defer t.svc.metrics.StreamsInFlight.Dec()

	t.outcome = metrics.OutcomeEOF
	for ev := range t.svc.streamer.Stream(streamCtx, t.prompt.Messages) {
		t.svc.metrics.ObserveStreamEvent(ev.IsError(), ev.Done)
		t.record(ev)

		if err := emit(toChunk(ev)); err != nil {
			t.logger.Info("client disconnected during stream", zap.Error(err))
			clientGone = true
			t.outcome = metrics.OutcomeClientGone
			return
		}

		if ev.Done {
			if ev.IsError() {
				t.outcome = metrics.OutcomeUpstreamError
			} else {
				t.outcome = metrics.OutcomeDone
			}
			return
		}
	}

	if ctx.Err() != nil {
		clientGone = true
		t.outcome = metrics.OutcomeClientGone
	}
}

// record appends an event to the assistant buffer. Error notes are kept
// so the stored reply matches what the user was shown.
func (t *ChatTurn) record(ev llm.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.IsError() {
		if t.response.Len() > 0 {
			t.response.WriteString("\n")
		}
		t.response.WriteString("Error: ")
		t.response.WriteString(ev.Error)
		return
	}
	t.response.WriteString(ev.Content)
}

// finalize persists the user message and, when anything was accumulated,
// the assistant message. It runs once, on a context that outlives the
// client connection.
func (t *ChatTurn) finalize(ctx context.Context, emit EmitFunc, clientGone *bool) {
	t.once.Do(func() {
		t.transition(StateFinalizing)
		defer t.transition(StateDone)

		if t.outcome == "" {
			t.outcome = metrics.OutcomeEOF
		}
		t.svc.metrics.StreamsTotal.WithLabelValues(t.outcome).Inc()

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.svc.finalizeTimeout)
		defer cancel()

		err := t.persist(pctx)
		if err == nil {
			return
		}

		t.svc.metrics.PersistFailures.Inc()
		t.logger.Error("failed to persist chat turn", zap.Error(err))
		if !*clientGone {
			_ = emit(domain.ErrorChunk(fmt.Sprintf("Failed to save conversation history: %v", err), true))
		}
	})
}

func (t *ChatTurn) persist(ctx context.Context) error {
	if err := t.svc.store.AppendMessage(ctx, t.user); err != nil {
		return err
	}

	content := t.Response()
	if content == "" {
		return nil
	}
	return t.svc.store.AppendMessage(ctx, &domain.Message{
		SessionID: t.sessionID,
		Role:      domain.RoleAssistant,
		Content:   content,
	})
}

func toChunk(ev llm.Event) domain.StreamChunk {
	if ev.IsError() {
		return domain.ErrorChunk(ev.Error, ev.Done)
	}
	return domain.ContentChunk(ev.Content, ev.Done)
}
