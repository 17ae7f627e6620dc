package chunker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Chunker splits page-structured documents into retrieval units using an
// adaptive profile chosen from a single-pass complexity analysis of the
// whole document.
type Chunker struct {
	cfg       Config
	base      *splitter
	technical *splitter
	narrative *splitter
}

func New(cfg Config) *Chunker {
	cfg = cfg.withDefaults()
	return &Chunker{
		cfg:       cfg,
		base:      newSplitter(cfg.BaseChunkSize, cfg.ChunkOverlap, markdownSeparators),
		technical: newSplitter(1500, 200, technicalSeparators),
		narrative: newSplitter(1000, 150, narrativeSeparators),
	}
}

// ChunkDocument returns the ordered retrieval units of doc. It never
// fails: malformed or empty pages simply contribute no chunks.
func (c *Chunker) ChunkDocument(documentID, filename string, doc Document) []Chunk {
	analysis := c.analyze(doc)

	var chunks []Chunk
	for pageIdx, page := range doc.Pages {
		chunks = append(chunks, c.chunkPage(documentID, filename, pageIdx, page, analysis)...)
	}
	return chunks
}

type documentAnalysis struct {
	avgWordsPerPage float64
	tableCount      int
	figureCount     int
	headingCount    int
	structuredRatio float64
	totalPages      int
	structured      bool
}

func (a documentAnalysis) complexity() string {
	switch {
	case a.structuredRatio > 0.5 || a.avgWordsPerPage > 1000:
		return "high"
	case a.structuredRatio > 0.2 || a.avgWordsPerPage > 500:
		return "medium"
	default:
		return "low"
	}
}

func (c *Chunker) analyze(doc Document) documentAnalysis {
	var a documentAnalysis
	totalLength := 0
	for _, page := range doc.Pages {
		totalLength += len(page.Content)
		a.tableCount += len(page.Tables)
		a.figureCount += len(page.Figures)
		a.headingCount += strings.Count(page.Content, "#")
	}
	pages := len(doc.Pages)
	if pages == 0 {
		pages = 1
	}
	a.totalPages = len(doc.Pages)
	// Rough word estimate: five characters per word.
	a.avgWordsPerPage = float64(totalLength) / float64(pages) / 5
	a.structuredRatio = float64(a.tableCount+a.figureCount) / float64(pages)
	a.structured = a.structuredRatio > 0.5 || a.headingCount > 20
	return a
}

// splitterFor selects the boundary profile: larger windows reduce
// fragmentation of dense structured prose, smaller windows improve
// precision for narrative text.
func (c *Chunker) splitterFor(a documentAnalysis) *splitter {
	switch {
	case a.structured || a.avgWordsPerPage > 800:
		return c.technical
	case a.avgWordsPerPage < 400:
		return c.narrative
	default:
		return c.base
	}
}

func (c *Chunker) chunkPage(documentID, filename string, pageIdx int, page Page, a documentAnalysis) []Chunk {
	language := page.Language
	if language == "" {
		language = "en"
	}

	var chunks []Chunk

	if content := strings.TrimSpace(page.Content); content != "" {
		chunks = append(chunks, c.chunkText(documentID, filename, pageIdx, language, content, a)...)
	}

	for tableIdx, table := range page.Tables {
		chunks = append(chunks, c.chunkTable(documentID, filename, pageIdx, tableIdx, language, table)...)
	}

	for figureIdx, figure := range page.Figures {
		if chunk, ok := c.chunkFigure(documentID, filename, pageIdx, figureIdx, language, figure); ok {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

func (c *Chunker) chunkText(documentID, filename string, pageIdx int, language, content string, a documentAnalysis) []Chunk {
	headings := extractHeadings(content)
	pieces := c.splitterFor(a).Split(content)

	chunks := make([]Chunk, 0, len(pieces))
	for idx, piece := range pieces {
		if len(strings.TrimSpace(piece)) < c.cfg.MinChunkSize {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:             uuid.NewString(),
			Content:        piece,
			ContentType:    ContentTypeText,
			DocumentID:     documentID,
			Filename:       filename,
			PageNumber:     pageIdx,
			ChunkIndex:     idx,
			Language:       language,
			HeadingContext: relevantHeading(piece, headings),
			QualityScore:   contentQuality(piece),
			IsCompleteUnit: isCompleteSection(piece),
			Extra: map[string]any{
				"document_complexity":    a.complexity(),
				"is_structured_document": a.structured,
			},
		})
	}
	return chunks
}

func (c *Chunker) chunkTable(documentID, filename string, pageIdx, tableIdx int, language string, table Table) []Chunk {
	content := strings.TrimSpace(table.Content)
	if content == "" {
		return nil
	}

	var sb strings.Builder
	if table.Title != "" {
		fmt.Fprintf(&sb, "Table %d: %s\n", tableIdx+1, table.Title)
	}
	if table.Caption != "" {
		fmt.Fprintf(&sb, "Caption: %s\n", table.Caption)
	}
	sb.WriteString("\n")
	sb.WriteString(content)
	assembled := sb.String()

	base := Chunk{
		ContentType: ContentTypeTable,
		DocumentID:  documentID,
		Filename:    filename,
		PageNumber:  pageIdx,
		Language:    language,
	}

	// Preservation first: a table is only pushed through the generic
	// splitter when it exceeds the ceiling.
	if len(assembled) <= c.cfg.TableMaxSize {
		chunk := base
		chunk.ID = uuid.NewString()
		chunk.Content = assembled
		chunk.ChunkIndex = 0
		chunk.QualityScore = 0.9
		chunk.IsCompleteUnit = true
		chunk.Extra = map[string]any{
			"table_index":   tableIdx,
			"table_title":   table.Title,
			"table_caption": table.Caption,
		}
		return []Chunk{chunk}
	}

	pieces := c.base.Split(assembled)
	chunks := make([]Chunk, 0, len(pieces))
	for idx, piece := range pieces {
		chunk := base
		chunk.ID = uuid.NewString()
		chunk.Content = piece
		chunk.ChunkIndex = idx
		chunk.QualityScore = 0.6
		chunk.IsCompleteUnit = false
		chunk.Extra = map[string]any{
			"table_index":   tableIdx,
			"table_title":   table.Title,
			"table_caption": table.Caption,
			"table_part":    fmt.Sprintf("Part %d of %d", idx+1, len(pieces)),
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (c *Chunker) chunkFigure(documentID, filename string, pageIdx, figureIdx int, language string, figure Figure) (Chunk, bool) {
	var sb strings.Builder
	if figure.Title != "" {
		fmt.Fprintf(&sb, "Figure: %s\n", figure.Title)
	}
	if figure.Caption != "" {
		fmt.Fprintf(&sb, "Caption: %s\n", figure.Caption)
	}
	if figure.Content != "" {
		fmt.Fprintf(&sb, "Description: %s", figure.Content)
	}

	assembled := sb.String()
	if strings.TrimSpace(assembled) == "" {
		// Nothing to index for a figure without textual content.
		return Chunk{}, false
	}

	return Chunk{
		ID:             uuid.NewString(),
		Content:        assembled,
		ContentType:    ContentTypeFigure,
		DocumentID:     documentID,
		Filename:       filename,
		PageNumber:     pageIdx,
		ChunkIndex:     0,
		Language:       language,
		QualityScore:   contentQuality(assembled),
		IsCompleteUnit: true,
		Extra: map[string]any{
			"figure_index":   figureIdx,
			"figure_title":   figure.Title,
			"figure_caption": figure.Caption,
		},
	}, true
}

type heading struct {
	level int
	text  string
}

func extractHeadings(content string) []heading {
	var headings []heading
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		level := len(line) - len(strings.TrimLeft(line, "#"))
		text := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if text != "" {
			headings = append(headings, heading{level: level, text: text})
		}
	}
	return headings
}

// relevantHeading finds the last heading whose text appears verbatim in
// the piece, falling back to the page's first heading. Metadata only; it
// never influences chunk boundaries.
func relevantHeading(piece string, headings []heading) string {
	if len(headings) == 0 {
		return ""
	}
	lower := strings.ToLower(piece)
	for i := len(headings) - 1; i >= 0; i-- {
		if strings.Contains(lower, strings.ToLower(headings[i].text)) {
			return headings[i].text
		}
	}
	return headings[0].text
}

// contentQuality scores structural completeness into [0.1, 1.0].
func contentQuality(content string) float64 {
	trimmed := strings.TrimSpace(content)
	score := 0.5

	if endsWithSentencePunctuation(trimmed) {
		score += 0.2
	}

	for _, marker := range []string{"#", "-", "*", "1.", "2.", "3."} {
		if strings.HasPrefix(trimmed, marker) {
			score += 0.1
			break
		}
	}

	if len(trimmed) > 800 {
		score += 0.1
	}

	if strings.Count(content, "...") > 2 || strings.Contains(content, "[truncated]") {
		score -= 0.3
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}

func isCompleteSection(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "#") &&
		endsWithSentencePunctuation(trimmed) &&
		len(trimmed) > 500
}

func endsWithSentencePunctuation(s string) bool {
	for _, suffix := range []string{".", "!", "?", ":"} {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
