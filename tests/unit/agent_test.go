package unit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/avidal-labs/docintel/agent"
	"github.com/avidal-labs/docintel/chunker"
	"github.com/avidal-labs/docintel/embeddings"
	"github.com/avidal-labs/docintel/index"
	"github.com/avidal-labs/docintel/llm"
)

const apologyPrefix = "I apologize, but I encountered an error"

func newController(t *testing.T, client llm.Client, idx *index.HybridIndex, opts agent.Options) (*agent.Controller, agent.SessionStore) {
	t.Helper()
	sessions := agent.NewMemorySessionStore()
	tool := agent.NewRetrievalTool(idx, 8, 0, discardLogger())
	return agent.NewController(client, tool, idx, sessions, opts, discardLogger()), sessions
}

func TestAskAnswersDirectlyWithoutDocuments(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	client := &scriptedLLM{generate: []string{"Hello! Upload some documents and I can search them."}}
	controller, _ := newController(t, client, idx, agent.Options{})

	answer := controller.Ask(context.Background(), "hi there", "s1")

	if !strings.HasPrefix(answer.Text, "Hello!") {
		t.Errorf("answer = %q", answer.Text)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(answer.Sources))
	}
	if answer.SessionID != "s1" {
		t.Errorf("session id = %q, want s1", answer.SessionID)
	}
	if client.toolCallsCount != 0 {
		t.Error("retrieval tool offered with no documents indexed")
	}
}

func TestAskRetrievesGradesAndAnswers(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()
	if _, err := idx.Index(ctx, "doc-1", "solar.md", singlePageDocument(longText("solar efficiency", 20))); err != nil {
		t.Fatalf("index: %v", err)
	}

	client := &scriptedLLM{
		toolReplies: []llm.Message{retrieveReply("solar efficiency")},
		structured:  []string{`{"binary_score":"yes"}`},
		generate:    []string{"Panel efficiency is covered in the solar report."},
	}
	controller, sessions := newController(t, client, idx, agent.Options{})

	answer := controller.Ask(ctx, "What does the report say about solar efficiency?", "s1")

	if answer.Text != "Panel efficiency is covered in the solar report." {
		t.Fatalf("answer = %q", answer.Text)
	}
	if len(answer.Sources) == 0 {
		t.Fatal("expected sources for a retrieval-backed answer")
	}
	if len(answer.Sources) > 5 {
		t.Errorf("source list too long: %d", len(answer.Sources))
	}
	for _, src := range answer.Sources {
		if len(src.ContentPreview) > 303 {
			t.Errorf("preview exceeds cap: %d chars", len(src.ContentPreview))
		}
		if !strings.Contains(src.SourceDocument, "solar.md") {
			t.Errorf("source attribution = %q", src.SourceDocument)
		}
	}

	// The whole turn is on record: question, tool call, tool result, answer.
	history, err := sessions.History(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if history[0].Role != llm.RoleUser || history[len(history)-1].Role != llm.RoleAssistant {
		t.Errorf("history shape wrong: first %q last %q", history[0].Role, history[len(history)-1].Role)
	}
}

func TestSourcePreviewEndsOnRuneBoundary(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()

	// One leading ASCII byte misaligns the three-byte runes against the
	// preview cap, so a naive byte slice would cut mid-rune.
	content := "a" + strings.Repeat("電", 150)
	if _, err := idx.Index(ctx, "doc-1", "report.md", singlePageDocument(content)); err != nil {
		t.Fatalf("index: %v", err)
	}

	client := &scriptedLLM{
		toolReplies: []llm.Message{retrieveReply("電")},
		structured:  []string{`{"binary_score":"yes"}`},
		generate:    []string{"The report is in Japanese."},
	}
	controller, _ := newController(t, client, idx, agent.Options{})

	answer := controller.Ask(ctx, "what language is the report in?", "s1")
	if len(answer.Sources) == 0 {
		t.Fatal("expected sources")
	}
	preview := answer.Sources[0].ContentPreview
	if !strings.HasSuffix(preview, "...") {
		t.Fatalf("long content preview not truncated: %q", preview)
	}
	if !utf8.ValidString(preview) {
		t.Errorf("preview is not valid UTF-8: %q", preview)
	}
}

func TestAskFallsBackOnLLMFailure(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	client := &scriptedLLM{generateErr: errors.New("model unavailable")}
	controller, sessions := newController(t, client, idx, agent.Options{})

	answer := controller.Ask(context.Background(), "anything", "s1")

	if !strings.HasPrefix(answer.Text, apologyPrefix) {
		t.Errorf("answer = %q, want apology", answer.Text)
	}
	if answer.Sources == nil || len(answer.Sources) != 0 {
		t.Errorf("fallback sources = %#v, want empty non-nil slice", answer.Sources)
	}

	// A failed turn leaves no partial history behind.
	history, err := sessions.History(context.Background(), "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history length = %d after failure, want 0", len(history))
	}
}

func TestAskEmptyQuestionFallsBack(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	controller, _ := newController(t, &scriptedLLM{}, idx, agent.Options{})

	answer := controller.Ask(context.Background(), "   ", "s1")
	if !strings.HasPrefix(answer.Text, apologyPrefix) {
		t.Errorf("answer = %q, want apology", answer.Text)
	}
}

func TestRewriteBoundTerminatesLoop(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()
	if _, err := idx.Index(ctx, "doc-1", "wind.md", singlePageDocument(longText("wind turbine", 20))); err != nil {
		t.Fatalf("index: %v", err)
	}

	client := &scriptedLLM{
		toolReplies: []llm.Message{retrieveReply("wind"), retrieveReply("wind output")},
		structured:  []string{`{"binary_score":"no"}`, `{"binary_score":"no"}`},
		generate:    []string{"What is the turbine power output?", "Best effort answer from partial context."},
	}
	controller, _ := newController(t, client, idx, agent.Options{MaxRewrites: 1})

	answer := controller.Ask(ctx, "turbine output?", "s1")

	if answer.Text != "Best effort answer from partial context." {
		t.Fatalf("answer = %q", answer.Text)
	}
	if client.toolCallsCount != 2 {
		t.Errorf("decide rounds = %d, want 2 (initial + one rewrite)", client.toolCallsCount)
	}
}

func TestSessionContinuityAcrossAsks(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	client := &scriptedLLM{generate: []string{"First answer.", "Second answer."}}
	controller, _ := newController(t, client, idx, agent.Options{})
	ctx := context.Background()

	controller.Ask(ctx, "first question", "s1")
	controller.Ask(ctx, "second question", "s1")

	// The second call sees the first exchange ahead of its own question.
	last := client.seenMessages[len(client.seenMessages)-1]
	if len(last) != 3 {
		t.Fatalf("second call saw %d messages, want 3", len(last))
	}
	if last[0].Content != "first question" || last[1].Content != "First answer." || last[2].Content != "second question" {
		t.Errorf("history order wrong: %+v", last)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	client := &scriptedLLM{generate: []string{"Answer one.", "Answer two."}}
	controller, sessions := newController(t, client, idx, agent.Options{})
	ctx := context.Background()

	controller.Ask(ctx, "question for a", "session-a")
	controller.Ask(ctx, "question for b", "session-b")

	historyA, _ := sessions.History(ctx, "session-a")
	historyB, _ := sessions.History(ctx, "session-b")
	if len(historyA) != 2 || len(historyB) != 2 {
		t.Fatalf("history lengths = %d/%d, want 2/2", len(historyA), len(historyB))
	}
	if historyA[0].Content == historyB[0].Content {
		t.Error("sessions share history")
	}
}

// denseOnlyStore serves dense queries from a fixed hit list and rejects
// sparse queries, forcing hybrid search to fail over to dense-only mode.
type denseOnlyStore struct {
	hits []index.Scored
}

func (s *denseOnlyStore) EnsureReady(context.Context) error              { return nil }
func (s *denseOnlyStore) Upsert(context.Context, []index.Point) error    { return nil }
func (s *denseOnlyStore) DeleteByDocument(context.Context, string) error { return nil }

func (s *denseOnlyStore) QueryDense(context.Context, []float32, index.Filter, int) ([]index.Scored, error) {
	return s.hits, nil
}

func (s *denseOnlyStore) QuerySparse(context.Context, embeddings.SparseVector, index.Filter, int) ([]index.Scored, error) {
	return nil, errors.New("sparse vectors not configured")
}

func (s *denseOnlyStore) Stats(context.Context) (index.StoreStats, error) {
	return index.StoreStats{Points: uint64(len(s.hits))}, nil
}

var _ index.VectorStore = (*denseOnlyStore)(nil)

func TestRetrievalToolDenseFallbackAppliesCosineFloor(t *testing.T) {
	store := &denseOnlyStore{hits: []index.Scored{
		{ID: "strong", Score: 0.9, Payload: index.Payload{ChunkID: "strong", DocumentID: "doc-1", Filename: "a.md", Content: "strong match"}},
		{ID: "weak", Score: 0.5, Payload: index.Payload{ChunkID: "weak", DocumentID: "doc-1", Filename: "a.md", Content: "weak match"}},
	}}
	idx := index.New(store, chunker.New(chunker.DefaultConfig()), &stubEmbedder{}, embeddings.NewLexicalEncoder(), discardLogger())
	tool := agent.NewRetrievalTool(idx, 5, 0, discardLogger())

	_, evidence := tool.Retrieve(context.Background(), "match")

	if len(evidence) != 1 {
		t.Fatalf("expected 1 result above the 0.7 floor, got %d", len(evidence))
	}
	if evidence[0].ChunkID != "strong" {
		t.Errorf("surviving chunk = %q, want strong", evidence[0].ChunkID)
	}
	if evidence[0].SearchType != index.SearchTypeDenseOnly {
		t.Errorf("search type = %q, want %q", evidence[0].SearchType, index.SearchTypeDenseOnly)
	}
}

func TestRetrievalToolFormatsContext(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()
	if _, err := idx.Index(ctx, "doc-1", "grid.md", singlePageDocument(longText("grid load", 20))); err != nil {
		t.Fatalf("index: %v", err)
	}

	tool := agent.NewRetrievalTool(idx, 3, 0, discardLogger())
	formatted, evidence := tool.Retrieve(ctx, "grid load")

	if len(evidence) == 0 {
		t.Fatal("expected evidence")
	}
	if !strings.Contains(formatted, "Source: grid.md (Page 1)") {
		t.Errorf("formatted context missing source line:\n%s", formatted)
	}
	for _, ev := range evidence {
		if ev.DocumentID != "doc-1" || ev.Content == "" {
			t.Errorf("incomplete evidence: %+v", ev)
		}
	}
}
