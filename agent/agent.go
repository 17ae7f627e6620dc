// Package agent drives the retrieval/grading/rewrite control loop that
// answers questions against the hybrid index under per-session memory.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/avidal-labs/docintel/llm"
)

const (
	maxSources      = 5
	previewLength   = 300
	defaultRewrites = 2
)

var gradeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"binary_score": {
			"type": "string",
			"enum": ["yes", "no"],
			"description": "Relevance score: 'yes' if relevant, or 'no' if not relevant"
		}
	},
	"required": ["binary_score"],
	"additionalProperties": false
}`)

// Source attributes part of an answer to a retrieved chunk.
type Source struct {
	ContentPreview string
	SourceDocument string
	ContentType    string
	PageNumber     int
	ChunkIndex     int
	RelevanceScore float64
	DocumentID     string
	ChunkID        string
	SearchType     string
}

// Answer is the contractual return shape of Ask: it is well formed even
// when the loop failed internally.
type Answer struct {
	Text      string
	Sources   []Source
	SessionID string
	Elapsed   time.Duration
}

// StatsProvider reports whether any chunks are indexed at all; when none
// are, the controller answers without offering the retrieval tool.
type StatsProvider interface {
	TotalChunks(ctx context.Context) (uint64, error)
}

type Options struct {
	MaxRewrites int
	AskTimeout  time.Duration
}

// Controller is the finite-state control loop. It is safe for concurrent
// use: asks for the same session id are serialized, distinct sessions run
// in parallel.
type Controller struct {
	llm      llm.Client
	tool     *RetrievalTool
	stats    StatsProvider
	sessions SessionStore
	logger   *log.Logger

	maxRewrites int
	askTimeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewController(client llm.Client, tool *RetrievalTool, stats StatsProvider, sessions SessionStore, opts Options, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	maxRewrites := opts.MaxRewrites
	if maxRewrites <= 0 {
		maxRewrites = defaultRewrites
	}
	return &Controller{
		llm:         client,
		tool:        tool,
		stats:       stats,
		sessions:    sessions,
		logger:      logger,
		maxRewrites: maxRewrites,
		askTimeout:  opts.AskTimeout,
		locks:       map[string]*sync.Mutex{},
	}
}

// Ask answers question under the memory of sessionID. It never returns an
// error: any failure inside the loop degrades to the fixed apologetic
// answer with an empty source list.
func (c *Controller) Ask(ctx context.Context, question, sessionID string) Answer {
	start := time.Now()

	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if c.askTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.askTimeout)
		defer cancel()
	}

	answer, err := c.run(ctx, question, sessionID)
	if err != nil {
		c.logger.Printf("ask failed for session %s: %v", sessionID, err)
		return Answer{
			Text:      fallbackAnswer,
			Sources:   []Source{},
			SessionID: sessionID,
			Elapsed:   time.Since(start),
		}
	}

	answer.SessionID = sessionID
	answer.Elapsed = time.Since(start)
	return answer
}

func (c *Controller) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[sessionID] = lock
	}
	return lock
}

func (c *Controller) run(ctx context.Context, question, sessionID string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question cannot be empty")
	}

	history, err := c.sessions.History(ctx, sessionID)
	if err != nil {
		return Answer{}, fmt.Errorf("load session history: %w", err)
	}

	hasDocuments := false
	if c.stats != nil {
		total, statsErr := c.stats.TotalChunks(ctx)
		if statsErr != nil {
			c.logger.Printf("stats check failed, assuming no documents: %v", statsErr)
		} else {
			hasDocuments = total > 0
		}
	}

	st := &loopState{
		question: question,
		messages: append(append([]llm.Message{}, history...), llm.Message{Role: llm.RoleUser, Content: question}),
	}

	state := StateDecide
	for state != StateEnd {
		switch state {
		case StateDecide:
			state, err = c.decide(ctx, st, hasDocuments)
		case StateRetrieve:
			state = c.retrieve(ctx, st)
		case StateGrade:
			state, err = c.grade(ctx, st)
		case StateRewrite:
			state, err = c.rewrite(ctx, st)
		case StateAnswer:
			state, err = c.answer(ctx, st)
		}
		if err != nil {
			return Answer{}, err
		}
	}

	// Persist only the turns added by this call, in order.
	if err := c.sessions.Append(ctx, sessionID, st.messages[len(history):]...); err != nil {
		return Answer{}, fmt.Errorf("append session history: %w", err)
	}

	final := st.messages[len(st.messages)-1]
	return Answer{Text: final.Content, Sources: buildSources(st.evidence)}, nil
}

// decide invokes the model with the full history. With documents indexed
// the retrieval tool is offered and the model chooses between answering
// directly and retrieving; without documents the direct reply terminates
// the loop.
func (c *Controller) decide(ctx context.Context, st *loopState, hasDocuments bool) (State, error) {
	if !hasDocuments {
		reply, err := c.llm.Generate(ctx, st.messages)
		if err != nil {
			return StateEnd, fmt.Errorf("generate direct reply: %w", err)
		}
		st.messages = append(st.messages, llm.Message{Role: llm.RoleAssistant, Content: strings.TrimSpace(reply)})
		return StateEnd, nil
	}

	msg, err := c.llm.GenerateWithTools(ctx, st.messages, []llm.Tool{c.tool.Definition()})
	if err != nil {
		return StateEnd, fmt.Errorf("generate query or respond: %w", err)
	}
	st.messages = append(st.messages, msg)

	if len(msg.ToolCalls) > 0 {
		st.pendingCall = msg.ToolCalls[0]
		return StateRetrieve, nil
	}
	return StateEnd, nil
}

// retrieve executes the pending tool call and appends its result as the
// current context. Evidence replaces whatever a previous retrieval in
// this call produced.
func (c *Controller) retrieve(ctx context.Context, st *loopState) State {
	query := st.question
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(st.pendingCall.Arguments), &args); err == nil && strings.TrimSpace(args.Query) != "" {
		query = args.Query
	}

	retrieved, evidence := c.tool.Retrieve(ctx, query)
	st.context = retrieved
	st.evidence = evidence
	st.messages = append(st.messages, llm.Message{
		Role:       llm.RoleTool,
		Content:    retrieved,
		ToolCallID: st.pendingCall.ID,
		Name:       st.pendingCall.Name,
	})
	return StateGrade
}

// grade asks for a binary relevance judgment of the retrieved context
// against the original question. Missing context is conservatively
// treated as not relevant.
func (c *Controller) grade(ctx context.Context, st *loopState) (State, error) {
	relevant := false
	if st.context != "" {
		raw, err := c.llm.GenerateStructured(ctx,
			[]llm.Message{{Role: llm.RoleUser, Content: gradePrompt(st.question, st.context)}},
			"grade_documents", gradeSchema)
		if err != nil {
			return StateEnd, fmt.Errorf("grade documents: %w", err)
		}
		var grade struct {
			BinaryScore string `json:"binary_score"`
		}
		if err := json.Unmarshal([]byte(raw), &grade); err != nil {
			return StateEnd, fmt.Errorf("decode grade: %w", err)
		}
		relevant = grade.BinaryScore == "yes"
	}

	if relevant {
		return StateAnswer, nil
	}
	if st.rewrites >= c.maxRewrites {
		// Rewrite budget exhausted: answer from the best available
		// context, or admit there is nothing to answer from.
		if st.context != "" {
			return StateAnswer, nil
		}
		st.messages = append(st.messages, llm.Message{Role: llm.RoleAssistant, Content: insufficientAnswer})
		return StateEnd, nil
	}
	return StateRewrite, nil
}

// rewrite reformulates the original question and feeds it back through
// another decide round as a new user message.
func (c *Controller) rewrite(ctx context.Context, st *loopState) (State, error) {
	reply, err := c.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: rewritePrompt(st.question)}})
	if err != nil {
		return StateEnd, fmt.Errorf("rewrite question: %w", err)
	}
	st.messages = append(st.messages, llm.Message{Role: llm.RoleUser, Content: strings.TrimSpace(reply)})
	st.rewrites++
	return StateDecide, nil
}

// answer generates the final reply constrained to the retrieved context.
func (c *Controller) answer(ctx context.Context, st *loopState) (State, error) {
	reply, err := c.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: answerPrompt(st.question, st.context)}})
	if err != nil {
		return StateEnd, fmt.Errorf("generate answer: %w", err)
	}
	st.messages = append(st.messages, llm.Message{Role: llm.RoleAssistant, Content: strings.TrimSpace(reply)})
	return StateEnd, nil
}

func buildSources(evidence []Evidence) []Source {
	sources := make([]Source, 0, maxSources)
	for _, ev := range evidence {
		if len(sources) == maxSources {
			break
		}
		preview := ev.Content
		if len(preview) > previewLength {
			cut := previewLength
			for cut > 0 && !utf8.RuneStart(preview[cut]) {
				cut--
			}
			preview = preview[:cut] + "..."
		}
		sources = append(sources, Source{
			ContentPreview: preview,
			SourceDocument: fmt.Sprintf("Document: %s (Page %d)", ev.Filename, ev.PageNumber+1),
			ContentType:    ev.ContentType,
			PageNumber:     ev.PageNumber,
			ChunkIndex:     ev.ChunkIndex,
			RelevanceScore: ev.Score,
			DocumentID:     ev.DocumentID,
			ChunkID:        ev.ChunkID,
			SearchType:     ev.SearchType,
		})
	}
	return sources
}
