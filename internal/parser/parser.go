package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

// ExtractPDF reads a PDF held in memory and returns one DocumentChunk per page that has
// extractable text. Pages are numbered from 1; blank pages are skipped.
func ExtractPDF(data []byte, filename string) (pages []models.DocumentChunk, err error) {
	source := sourceName(filename)

	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("failed to parse pdf %s: %w: %v", source, models.ErrInput, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w: %v", source, models.ErrInput, err)
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d of %s: %w: %v", i, source, models.ErrInput, err)
		}
		if strings.TrimSpace(pageText) == "" {
			log.Debug().Str("source", source).Int("page", i).Msg("Skipping page without text")
			continue
		}
		pages = append(pages, models.DocumentChunk{
			Page:    i,
			Content: pageText,
			Source:  source,
		})
	}
	return pages, nil
}

// LoadPDF extracts the pages of a PDF and splits them into chunks.
func LoadPDF(data []byte, filename string, chunker *Chunker) ([]models.DocumentChunk, error) {
	pages, err := ExtractPDF(data, filename)
	if err != nil {
		return nil, err
	}
	chunks := chunker.Split(pages)
	log.Debug().
		Str("source", sourceName(filename)).
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Msg("Parsed document")
	return chunks, nil
}

func sourceName(filename string) string {
	if filename == "" {
		return ""
	}
	return filepath.Base(filename)
}
