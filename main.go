package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avidal-labs/docintel/agent"
	"github.com/avidal-labs/docintel/api"
	"github.com/avidal-labs/docintel/chunker"
	"github.com/avidal-labs/docintel/config"
	"github.com/avidal-labs/docintel/database"
	"github.com/avidal-labs/docintel/embeddings"
	"github.com/avidal-labs/docintel/index"
	"github.com/avidal-labs/docintel/ingestion"
	"github.com/avidal-labs/docintel/llm"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "delete":
		deleteCmd(cfg, logger, os.Args[2:])
	case "stats":
		statsCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// app bundles the wired components a command needs. close releases the
// connections that were actually opened.
type app struct {
	index      *index.HybridIndex
	controller *agent.Controller
	ingest     *ingestion.Service
	docs       *database.DocumentStore

	pool     *pgxpool.Pool
	sessions agent.SessionStore
}

func (a *app) close() {
	if closer, ok := a.sessions.(interface{ Close() error }); ok && closer != nil {
		_ = closer.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	sparse := embeddings.NewLexicalEncoder()

	splitter := chunker.New(chunker.Config{
		BaseChunkSize: cfg.Chunking.BaseChunkSize,
		ChunkOverlap:  cfg.Chunking.ChunkOverlap,
		MinChunkSize:  cfg.Chunking.MinChunkSize,
		MaxChunkSize:  cfg.Chunking.MaxChunkSize,
		TableMaxSize:  cfg.Chunking.TableMaxSize,
	})

	a := &app{}

	var store index.VectorStore
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		store, err = index.NewQdrantStore(index.QdrantOptions{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
			Dimension:  cfg.Embeddings.Dimension,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("qdrant setup: %w", err)
		}
	case config.BackendPgVector:
		a.pool, err = database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		store = index.NewPgVectorStore(a.pool, cfg.Embeddings.Dimension)
	case config.BackendMemory:
		store = index.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.VectorBackend)
	}

	if err := store.EnsureReady(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("vector store setup: %w", err)
	}

	a.index = index.New(store, splitter, embedder, sparse, logger)

	// Document metadata lives in Postgres when a DSN is configured.
	if cfg.PostgresDSN != "" {
		if a.pool == nil {
			a.pool, err = database.NewPostgresPool(ctx, cfg.PostgresDSN)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("postgres connection: %w", err)
			}
		}
		if err := database.EnsureSchema(ctx, a.pool); err != nil {
			a.close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		a.docs = database.NewDocumentStore(a.pool)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	var pdfExtractor ingestion.PageExtractor = ingestion.PDFTextExtractor{}
	if cfg.StructurePages {
		pdfExtractor = ingestion.NewStructuringExtractor(pdfExtractor, llmClient, logger)
	}
	extractors := []ingestion.PageExtractor{
		pdfExtractor,
		ingestion.PlainTextExtractor{},
	}
	a.ingest = ingestion.NewService(a.index, a.docs, extractors, logger)

	if cfg.SessionDBPath != "" {
		sessions, err := agent.OpenSQLiteSessionStore(cfg.SessionDBPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("session store setup: %w", err)
		}
		a.sessions = sessions
	} else {
		a.sessions = agent.NewMemorySessionStore()
	}

	tool := agent.NewRetrievalTool(a.index, cfg.Agent.RetrieveLimit, cfg.Agent.ScoreThreshold, logger)
	a.controller = agent.NewController(llmClient, tool, a.index, a.sessions, agent.Options{
		MaxRewrites: cfg.Agent.MaxRewrites,
		AskTimeout:  cfg.Agent.AskTimeout,
	}, logger)

	return a, nil
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "directory containing source documents")
	file := flags.String("file", "", "single file to ingest instead of a directory")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer a.close()

	if *file != "" {
		res, err := a.ingest.IngestFile(ctx, *file)
		if err != nil {
			logger.Fatalf("ingestion failed: %v", err)
		}
		logger.Printf("ingested %s: %d pages, %d chunks", res.Filename, res.Pages, res.Chunks)
		return
	}

	logger.Printf("ingesting documents from %s using %s/%s embeddings", *dataDir, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	results, err := a.ingest.IngestDirectory(ctx, *dataDir)
	if err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	logger.Printf("ingestion complete: %d documents, %d failed", len(results), failed)
}

func askCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	question := flags.String("question", "", "question to ask the agent")
	sessionID := flags.String("session", "default", "conversation session id")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ask flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}
	if strings.TrimSpace(*question) == "" {
		logger.Fatal("question is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer a.close()

	answer := a.controller.Ask(ctx, *question, *sessionID)

	fmt.Println()
	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, src := range answer.Sources {
			fmt.Printf("  %d. %s (page %d, score %.3f)\n", i+1, src.SourceDocument, src.PageNumber, src.RelevanceScore)
		}
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "listen address for the HTTP API")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer a.close()

	server := &http.Server{
		Addr:    *addr,
		Handler: api.New(a.controller, a.ingest, a.docs, a.index, logger),
	}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	logger.Printf("listening on %s (backend %s)", *addr, cfg.VectorBackend)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http server: %v", err)
	}
}

func deleteCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("delete", flag.ExitOnError)
	id := flags.String("id", "", "document id to delete")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse delete flags: %v", err)
	}
	if strings.TrimSpace(*id) == "" {
		logger.Fatal("document id is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer a.close()

	if err := a.ingest.DeleteDocument(ctx, *id); err != nil {
		logger.Fatalf("delete failed: %v", err)
	}
	logger.Printf("document %s deleted", *id)
}

func statsCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse stats flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer a.close()

	stats, err := a.index.Stats(ctx)
	if err != nil {
		logger.Fatalf("collection stats: %v", err)
	}

	fmt.Printf("chunks:     %d\n", stats.TotalChunks)
	fmt.Printf("dimension:  %d\n", stats.VectorDimension)
	fmt.Printf("distance:   %s\n", stats.DistanceMetric)
	fmt.Printf("sparse:     %t\n", stats.SparseConfigured)
}

func printUsage() {
	fmt.Println("Usage: docintel <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ingest   index documents from a directory or single file")
	fmt.Println("  ask      ask the agent a question")
	fmt.Println("  serve    run the HTTP API")
	fmt.Println("  delete   remove a document from the index")
	fmt.Println("  stats    show vector collection statistics")
}
