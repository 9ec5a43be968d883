package service

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/docchat/internal/budget"
	"github.com/liliang-cn/docchat/internal/domain"
	"go.uber.org/zap"
)

// Default ceilings, in budget.CountTokens units
const (
	DefaultMaxPDFTokens     = 4000
	DefaultMaxHistoryTokens = 2000
)

const documentContextTemplate = "Here is some relevant document context:\n%s\n\n" +
	"Based on this context and our conversation, please answer the user's questions. " +
	"If the context is insufficient or not relevant, state that you cannot answer based on the provided documents."

// DocumentSource looks up cached document text by id
type DocumentSource interface {
	Get(id string) (*domain.PDFEntry, error)
}

// PromptInput is everything one turn contributes to the prompt
type PromptInput struct {
	UsePDF      bool
	PDFIDs      []string
	History     []*domain.Message
	UserMessage string
}

// Prompt is the assembled message list plus accounting for logs and metrics
type Prompt struct {
	Messages         []domain.PromptMessage
	PDFTokens        int
	HistoryTokens    int
	HistoryIncluded  int
	HistoryTruncated bool
	MissingPDFs      []string
	SkippedPDFs      []string
}

// ContextBuilder assembles the upstream prompt under the two token ceilings
type ContextBuilder struct {
	systemPrompt     string
	maxPDFTokens     int
	maxHistoryTokens int
	docs             DocumentSource
	logger           *zap.Logger
}

// NewContextBuilder creates a new context builder
func NewContextBuilder(systemPrompt string, maxPDFTokens, maxHistoryTokens int, docs DocumentSource, logger *zap.Logger) *ContextBuilder {
	return &ContextBuilder{
		systemPrompt:     systemPrompt,
		maxPDFTokens:     maxPDFTokens,
		maxHistoryTokens: maxHistoryTokens,
		docs:             docs,
		logger:           logger,
	}
}

// Build returns the ordered prompt: base system message, optional document
// context, the oldest history that fits, then the live user message.
func (b *ContextBuilder) Build(in PromptInput) *Prompt {
	p := &Prompt{
		Messages: []domain.PromptMessage{{Role: domain.RoleSystem, Content: b.systemPrompt}},
	}

	if in.UsePDF && len(in.PDFIDs) > 0 {
		if docContext := b.documentContext(in.PDFIDs, p); docContext != "" {
			p.Messages = append(p.Messages, domain.PromptMessage{
				Role:    domain.RoleSystem,
				Content: fmt.Sprintf(documentContextTemplate, strings.TrimSpace(docContext)),
			})
		}
	}

	b.appendHistory(in.History, p)

	// the live turn is not counted against the history ceiling
	p.Messages = append(p.Messages, domain.PromptMessage{Role: domain.RoleUser, Content: in.UserMessage})
	return p
}

// documentContext concatenates documents in request order until the PDF
// ceiling, truncating the document that crosses it and dropping the rest.
func (b *ContextBuilder) documentContext(ids []string, p *Prompt) string {
	var sb strings.Builder
	used := 0

	for i, id := range ids {
		entry, err := b.docs.Get(id)
		if err != nil || entry.Text == "" {
			b.logger.Warn("requested pdf not found in cache", zap.String("pdf_id", id))
			p.MissingPDFs = append(p.MissingPDFs, id)
			continue
		}

		tokens := budget.CountTokens(entry.Text)
		if used+tokens <= b.maxPDFTokens {
			fmt.Fprintf(&sb, "\n--- PDF Context from %s ---\n%s", entry.Filename, entry.Text)
			used += tokens
			continue
		}

		rest := ids[i+1:]
		if remaining := budget.Remaining(b.maxPDFTokens, used); remaining > 0 {
			truncated := budget.TruncateToTokenBudget(entry.Text, remaining)
			fmt.Fprintf(&sb, "\n--- PDF Context from %s ---\n%s", entry.Filename, truncated)
			used += budget.CountTokens(truncated)
		} else {
			rest = ids[i:]
		}
		if len(rest) > 0 {
			p.SkippedPDFs = append(p.SkippedPDFs, rest...)
			b.logger.Info("pdf token ceiling reached, skipping remaining documents",
				zap.Int("max_pdf_tokens", b.maxPDFTokens),
				zap.Strings("skipped", rest),
			)
		}
		break
	}

	p.PDFTokens = used
	return sb.String()
}

// appendHistory walks history oldest first. The running total starts at
// the size of the system messages already in the prompt.
func (b *ContextBuilder) appendHistory(history []*domain.Message, p *Prompt) {
	used := 0
	for _, m := range p.Messages {
		used += budget.CountTokens(m.Content)
	}

	for _, msg := range history {
		tokens := budget.CountTokens(msg.Content)
		if used+tokens <= b.maxHistoryTokens {
			p.Messages = append(p.Messages, domain.PromptMessage{Role: msg.Role, Content: msg.Content})
			used += tokens
			p.HistoryIncluded++
			continue
		}

		if remaining := budget.Remaining(b.maxHistoryTokens, used); remaining > 0 {
			truncated := budget.TruncateToTokenBudget(msg.Content, remaining)
			p.Messages = append(p.Messages, domain.PromptMessage{Role: msg.Role, Content: truncated})
			used += budget.CountTokens(truncated)
			p.HistoryIncluded++
		}
		p.HistoryTruncated = true
		break
	}

	p.HistoryTokens = used
}
