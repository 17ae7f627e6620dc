package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	pdf "github.com/ledongthuc/pdf"

	"github.com/avidal-labs/docintel/chunker"
	"github.com/avidal-labs/docintel/llm"
)

// PageExtractor turns a source file into a page-oriented document.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string) (chunker.Document, error)
	Supports(path string) bool
}

type PDFTextExtractor struct{}

func (PDFTextExtractor) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func (PDFTextExtractor) ExtractPages(_ context.Context, path string) (chunker.Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return chunker.Document{}, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var doc chunker.Document
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			doc.Pages = append(doc.Pages, chunker.Page{})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return chunker.Document{}, fmt.Errorf("extract pdf page %d of %s: %w", i, path, err)
		}
		doc.Pages = append(doc.Pages, chunker.Page{Content: normalizePlainText(text)})
	}
	return doc, nil
}

// PlainTextExtractor handles markdown and plain text files as a single page.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Supports(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

func (PlainTextExtractor) ExtractPages(_ context.Context, path string) (chunker.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chunker.Document{}, fmt.Errorf("read file %s: %w", path, err)
	}
	return chunker.Document{
		Pages: []chunker.Page{{Content: string(data)}},
	}, nil
}

func normalizePlainText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

const (
	structureBatchSize  = 3
	structureBatchPause = time.Second
)

var structuredPageSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"content": {"type": "string"},
		"language": {"type": "string"},
		"tables": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["content"]
			}
		},
		"figures": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"caption": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["caption"]
			}
		}
	},
	"required": ["content", "language"]
}`)

const structurePrompt = `You convert raw page text into structured form.
Return the page content as clean markdown, detect the language (ISO 639-1 code),
and pull out any tables (as markdown tables) and figure descriptions separately.
Keep all information from the original text.`

// StructuringExtractor wraps a raw extractor and asks the model to recover
// tables, figures and language per page. Pages run in small batches with a
// pause in between to stay inside provider rate limits.
type StructuringExtractor struct {
	inner  PageExtractor
	client llm.Client
	logger *log.Logger
}

func NewStructuringExtractor(inner PageExtractor, client llm.Client, logger *log.Logger) *StructuringExtractor {
	if logger == nil {
		logger = log.Default()
	}
	return &StructuringExtractor{inner: inner, client: client, logger: logger}
}

func (e *StructuringExtractor) Supports(path string) bool {
	return e.inner.Supports(path)
}

func (e *StructuringExtractor) ExtractPages(ctx context.Context, path string) (chunker.Document, error) {
	doc, err := e.inner.ExtractPages(ctx, path)
	if err != nil {
		return chunker.Document{}, err
	}

	for start := 0; start < len(doc.Pages); start += structureBatchSize {
		end := start + structureBatchSize
		if end > len(doc.Pages) {
			end = len(doc.Pages)
		}
		for i := start; i < end; i++ {
			structured, err := e.structurePage(ctx, doc.Pages[i])
			if err != nil {
				// A page that cannot be structured keeps its raw text.
				e.logger.Printf("ingestion: structuring page %d of %s failed: %v", i+1, path, err)
				continue
			}
			doc.Pages[i] = structured
		}
		if end < len(doc.Pages) {
			select {
			case <-ctx.Done():
				return chunker.Document{}, ctx.Err()
			case <-time.After(structureBatchPause):
			}
		}
	}
	return doc, nil
}

func (e *StructuringExtractor) structurePage(ctx context.Context, page chunker.Page) (chunker.Page, error) {
	if strings.TrimSpace(page.Content) == "" {
		return page, nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: structurePrompt},
		{Role: llm.RoleUser, Content: page.Content},
	}
	raw, err := e.client.GenerateStructured(ctx, messages, "structured_page", structuredPageSchema)
	if err != nil {
		return chunker.Page{}, fmt.Errorf("structure page: %w", err)
	}

	var parsed struct {
		Content  string `json:"content"`
		Language string `json:"language"`
		Tables   []struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"tables"`
		Figures []struct {
			Title   string `json:"title"`
			Caption string `json:"caption"`
			Content string `json:"content"`
		} `json:"figures"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return chunker.Page{}, fmt.Errorf("decode structured page: %w", err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return chunker.Page{}, fmt.Errorf("structured page came back empty")
	}

	out := chunker.Page{Content: parsed.Content, Language: parsed.Language}
	for _, t := range parsed.Tables {
		out.Tables = append(out.Tables, chunker.Table{Title: t.Title, Content: t.Content})
	}
	for _, f := range parsed.Figures {
		out.Figures = append(out.Figures, chunker.Figure{Title: f.Title, Caption: f.Caption, Content: f.Content})
	}
	return out, nil
}
