package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/liliang-cn/docchat/internal/domain"
	"github.com/liliang-cn/docchat/internal/metrics"
	"go.uber.org/zap"
)

// DefaultMaxUploadBytes caps a single PDF upload
const DefaultMaxUploadBytes int64 = 32 << 20

const (
	uploadMessage   = "PDF uploaded and stored in temporary memory successfully. It will be lost on server restart."
	previewLength   = 200
	previewEllipsis = "..."
)

// DocumentCache is the in-memory PDF store used for uploads and listings
type DocumentCache interface {
	Store(filename string, raw []byte) (*domain.PDFEntry, error)
	List() []domain.PDFSummary
	Len() int
}

// DocumentService handles PDF uploads
type DocumentService struct {
	cache    DocumentCache
	maxBytes int64
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(cache DocumentCache, maxBytes int64, m *metrics.Metrics, logger *zap.Logger) *DocumentService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &DocumentService{
		cache:    cache,
		maxBytes: maxBytes,
		metrics:  m,
		logger:   logger,
	}
}

// IsPDF reports whether filename carries a .pdf extension
func IsPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// Upload extracts the text of a PDF and caches it
func (s *DocumentService) Upload(ctx context.Context, filename string, r io.Reader) (*domain.UploadResult, error) {
	if filename == "" || !IsPDF(filename) {
		s.metrics.PDFUploadsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.Detailed(domain.ErrInvalidRequest, "Only PDF files are allowed")
	}

	raw, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		s.metrics.PDFUploadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	if int64(len(raw)) > s.maxBytes {
		s.metrics.PDFUploadsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.Detailed(domain.ErrInvalidRequest, "File exceeds the %d byte upload limit", s.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := s.cache.Store(filename, raw)
	if err != nil {
		status := "failed"
		if errors.Is(err, domain.ErrEmptyDocument) {
			status = "empty"
		}
		s.metrics.PDFUploadsTotal.WithLabelValues(status).Inc()
		s.logger.Warn("pdf upload rejected", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}

	s.metrics.PDFUploadsTotal.WithLabelValues("stored").Inc()
	s.metrics.PDFCacheEntries.Set(float64(s.cache.Len()))
	s.logger.Info("pdf cached",
		zap.String("pdf_id", entry.ID),
		zap.String("filename", filename),
		zap.Int("bytes", len(raw)),
		zap.Int("chars", len(entry.Text)),
	)

	return &domain.UploadResult{
		PDFID:          entry.ID,
		Filename:       entry.Filename,
		Message:        uploadMessage,
		ContentPreview: Preview(entry.Text),
	}, nil
}

// List returns every cached PDF
func (s *DocumentService) List() *domain.PDFListResponse {
	pdfs := s.cache.List()
	return &domain.PDFListResponse{
		PDFs:      pdfs,
		TotalPDFs: len(pdfs),
		Note:      domain.PDFCacheNote,
	}
}

// Preview returns the first 200 characters of text, with an ellipsis when cut
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + previewEllipsis
}
