// Package chunker turns page-structured documents into retrieval units.
// Splitting is deterministic for a given document and configuration, and
// tables and figures are kept as atomic units whenever they fit.
package chunker

// ContentType tags the kind of content a chunk carries.
type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeTable  ContentType = "table"
	ContentTypeFigure ContentType = "figure"
)

// Document is the page-structured input produced by an extraction step.
type Document struct {
	Pages []Page
}

type Page struct {
	Content  string
	Language string
	Tables   []Table
	Figures  []Figure
}

type Table struct {
	Title   string
	Caption string
	Content string
}

type Figure struct {
	Title   string
	Caption string
	Content string
}

// Chunk is a retrieval unit. Chunks are immutable once produced; the
// index owns them from that point on.
type Chunk struct {
	ID             string
	Content        string
	ContentType    ContentType
	DocumentID     string
	Filename       string
	PageNumber     int
	ChunkIndex     int
	Language       string
	HeadingContext string
	QualityScore   float64
	IsCompleteUnit bool

	// Extra holds open extension metadata beyond the well-known fields,
	// for example the "part i of n" marker on split tables.
	Extra map[string]any
}

// Config controls chunk sizing. Zero values fall back to defaults.
type Config struct {
	BaseChunkSize int
	ChunkOverlap  int
	MinChunkSize  int
	MaxChunkSize  int
	TableMaxSize  int
}

func DefaultConfig() Config {
	return Config{
		BaseChunkSize: 1200,
		ChunkOverlap:  150,
		MinChunkSize:  100,
		MaxChunkSize:  2000,
		TableMaxSize:  3000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseChunkSize <= 0 {
		c.BaseChunkSize = def.BaseChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = def.ChunkOverlap
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = def.MinChunkSize
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = def.MaxChunkSize
	}
	if c.TableMaxSize <= 0 {
		c.TableMaxSize = def.TableMaxSize
	}
	return c
}
