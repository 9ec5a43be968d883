package repository

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/docchat/internal/domain"
	"github.com/liliang-cn/docchat/internal/extract"
)

// PDFCache holds extracted PDF text in process memory. Entries live until
// the process exits and are never persisted.
type PDFCache struct {
	extractor extract.Extractor
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]*domain.PDFEntry
}

// NewPDFCache creates an empty cache that extracts text with extractor
func NewPDFCache(extractor extract.Extractor) *PDFCache {
	return &PDFCache{
		extractor: extractor,
		now:       time.Now,
		entries:   make(map[string]*domain.PDFEntry),
	}
}

// Store extracts the text of raw and caches it under a fresh id
func (c *PDFCache) Store(filename string, raw []byte) (*domain.PDFEntry, error) {
	text, err := c.extractor.ExtractText(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyDocument
	}

	entry := &domain.PDFEntry{
		ID:         uuid.New().String(),
		Filename:   filename,
		Text:       text,
		UploadedAt: c.now(),
	}

	c.mu.Lock()
	c.entries[entry.ID] = entry
	c.mu.Unlock()

	return entry, nil
}

// Get returns the entry for id, or domain.ErrNotFound
func (c *PDFCache) Get(id string) (*domain.PDFEntry, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pdf %s: %w", id, domain.ErrNotFound)
	}
	return entry, nil
}

// List returns every cached entry, oldest upload first
func (c *PDFCache) List() []domain.PDFSummary {
	c.mu.RLock()
	summaries := make([]domain.PDFSummary, 0, len(c.entries))
	for _, e := range c.entries {
		summaries = append(summaries, domain.PDFSummary{
			ID:         e.ID,
			Filename:   e.Filename,
			UploadedAt: e.UploadedAt,
		})
	}
	c.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UploadedAt.Equal(summaries[j].UploadedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].UploadedAt.Before(summaries[j].UploadedAt)
	})
	return summaries
}

// Len returns the number of cached entries
func (c *PDFCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
