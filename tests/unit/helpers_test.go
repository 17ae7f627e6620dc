package unit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/avidal-labs/docintel/chunker"
	"github.com/avidal-labs/docintel/embeddings"
	"github.com/avidal-labs/docintel/index"
	"github.com/avidal-labs/docintel/llm"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// stubEmbedder derives a deterministic vector from the byte content of
// each text so that identical texts always map to identical vectors.
type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		var a, b, c float32
		for j := 0; j < len(text); j++ {
			switch j % 3 {
			case 0:
				a += float32(text[j])
			case 1:
				b += float32(text[j])
			default:
				c += float32(text[j])
			}
		}
		vectors[i] = []float32{a + 1, b + 1, c + 1}
	}
	return vectors, nil
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

func newMemoryIndex(t *testing.T) (*index.HybridIndex, *index.MemoryStore) {
	t.Helper()
	store := index.NewMemoryStore()
	idx := index.New(store, chunker.New(chunker.DefaultConfig()), &stubEmbedder{}, embeddings.NewLexicalEncoder(), discardLogger())
	return idx, store
}

func singlePageDocument(content string) chunker.Document {
	return chunker.Document{Pages: []chunker.Page{{Content: content}}}
}

func longText(topic string, sentences int) string {
	out := ""
	for i := 0; i < sentences; i++ {
		out += fmt.Sprintf("The %s report covers measurement cycle %d in considerable operational detail. ", topic, i+1)
	}
	return out
}

// scriptedLLM replays queued responses in order. Each Generate-family
// call consumes the head of its queue; an exhausted queue is a test bug.
type scriptedLLM struct {
	generate       []string
	toolReplies    []llm.Message
	structured     []string
	generateErr    error
	toolErr        error
	structuredErr  error
	seenMessages   [][]llm.Message
	toolCallsCount int
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llm.Message) (string, error) {
	s.seenMessages = append(s.seenMessages, messages)
	if s.generateErr != nil {
		return "", s.generateErr
	}
	if len(s.generate) == 0 {
		return "", fmt.Errorf("scripted generate queue exhausted")
	}
	reply := s.generate[0]
	s.generate = s.generate[1:]
	return reply, nil
}

func (s *scriptedLLM) GenerateWithTools(_ context.Context, messages []llm.Message, _ []llm.Tool) (llm.Message, error) {
	s.seenMessages = append(s.seenMessages, messages)
	s.toolCallsCount++
	if s.toolErr != nil {
		return llm.Message{}, s.toolErr
	}
	if len(s.toolReplies) == 0 {
		return llm.Message{}, fmt.Errorf("scripted tool reply queue exhausted")
	}
	reply := s.toolReplies[0]
	s.toolReplies = s.toolReplies[1:]
	return reply, nil
}

func (s *scriptedLLM) GenerateStructured(_ context.Context, messages []llm.Message, _ string, _ json.RawMessage) (string, error) {
	s.seenMessages = append(s.seenMessages, messages)
	if s.structuredErr != nil {
		return "", s.structuredErr
	}
	if len(s.structured) == 0 {
		return "", fmt.Errorf("scripted structured queue exhausted")
	}
	reply := s.structured[0]
	s.structured = s.structured[1:]
	return reply, nil
}

var _ llm.Client = (*scriptedLLM)(nil)

func retrieveReply(query string) llm.Message {
	return llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{
			ID:        "call_0",
			Name:      "retrieve_documents",
			Arguments: fmt.Sprintf(`{"query":%q}`, query),
		}},
	}
}
