package unit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/avidal-labs/docintel/agent"
	"github.com/avidal-labs/docintel/llm"
)

func TestMemorySessionStoreRoundTrip(t *testing.T) {
	store := agent.NewMemorySessionStore()
	ctx := context.Background()

	if err := store.Append(ctx, "s1",
		llm.Message{Role: llm.RoleUser, Content: "hello"},
		llm.Message{Role: llm.RoleAssistant, Content: "hi"},
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	history, err := store.History(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Content != "hello" || history[1].Content != "hi" {
		t.Errorf("history out of order: %+v", history)
	}

	// The returned slice is a copy; mutating it must not corrupt the store.
	history[0].Content = "mutated"
	again, _ := store.History(ctx, "s1")
	if again[0].Content != "hello" {
		t.Error("history copy leaked internal state")
	}

	if err := store.Clear(ctx, "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cleared, _ := store.History(ctx, "s1")
	if len(cleared) != 0 {
		t.Errorf("history after clear = %d messages", len(cleared))
	}
}

func TestSQLiteSessionStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := agent.OpenSQLiteSessionStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "what is the warranty period?"},
		{Role: llm.RoleAssistant, Content: "", ToolCalls: []llm.ToolCall{{
			ID: "call_0", Name: "retrieve_documents", Arguments: `{"query":"warranty"}`,
		}}},
		{Role: llm.RoleTool, Content: "Source: manual.pdf (Page 3)\nTwo years.", ToolCallID: "call_0", Name: "retrieve_documents"},
		{Role: llm.RoleAssistant, Content: "Two years."},
	}
	if err := store.Append(ctx, "s1", messages...); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := agent.OpenSQLiteSessionStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	history, err := reopened.History(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if len(history[1].ToolCalls) != 1 || history[1].ToolCalls[0].Name != "retrieve_documents" {
		t.Errorf("tool calls not preserved: %+v", history[1].ToolCalls)
	}
	if history[2].ToolCallID != "call_0" {
		t.Errorf("tool call id = %q, want call_0", history[2].ToolCallID)
	}
	if history[3].Content != "Two years." {
		t.Errorf("final message = %q", history[3].Content)
	}
}

func TestSQLiteSessionStoreIsolatesSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := agent.OpenSQLiteSessionStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Append(ctx, "a", llm.Message{Role: llm.RoleUser, Content: "for a"}); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if err := store.Append(ctx, "b", llm.Message{Role: llm.RoleUser, Content: "for b"}); err != nil {
		t.Fatalf("append b: %v", err)
	}
	if err := store.Clear(ctx, "a"); err != nil {
		t.Fatalf("clear a: %v", err)
	}

	historyA, _ := store.History(ctx, "a")
	historyB, _ := store.History(ctx, "b")
	if len(historyA) != 0 {
		t.Errorf("session a not cleared: %d messages", len(historyA))
	}
	if len(historyB) != 1 || historyB[0].Content != "for b" {
		t.Errorf("session b affected by clearing a: %+v", historyB)
	}
}
