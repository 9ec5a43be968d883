package domain

import "time"

// PDFCacheNote is reported wherever cached documents are listed
const PDFCacheNote = "These PDFs are stored temporarily in server memory and are lost on server restart."

// PDFEntry represents an uploaded PDF held in process memory
type PDFEntry struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Text       string    `json:"-"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// PDFSummary is the listing view of a PDFEntry
type PDFSummary struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// UploadResult is the response of /upload-pdf
type UploadResult struct {
	PDFID          string `json:"pdf_id"`
	Filename       string `json:"filename"`
	Message        string `json:"message"`
	ContentPreview string `json:"content_preview"`
}

// PDFListResponse is the response of /pdfs
type PDFListResponse struct {
	PDFs      []PDFSummary `json:"pdfs"`
	TotalPDFs int          `json:"total_pdfs"`
	Note      string       `json:"note"`
}
