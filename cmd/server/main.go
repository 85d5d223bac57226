package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lte.dev/doc-chatbot/internal/api"
	"lte.dev/doc-chatbot/internal/chunker"
	"lte.dev/doc-chatbot/internal/config"
	"lte.dev/doc-chatbot/internal/core"
	"lte.dev/doc-chatbot/internal/pdfloader"
	"lte.dev/doc-chatbot/internal/store"
	"lte.dev/doc-chatbot/internal/vectorindex"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ingest := flag.Bool("ingest", false, "Index the PDFs in PDF_DIR and exit")
	flag.Parse()

	cfg := config.LoadConfig()
	if cfg.Debug() {
		log.Println("Service starting in DEBUG mode")
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	ctx := context.Background()

	// Interfaces stay nil without a valid key so the services run in their
	// not-configured mode.
	var (
		oracle    core.Oracle
		retriever core.Retriever
		indexer   core.Indexer
	)
	if cfg.APIKeyValid() {
		gemini, err := core.NewGeminiOracle(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize Gemini client: %v", err)
		}
		defer gemini.Close()

		var indexOpts []vectorindex.Option
		if cfg.VectorStoreKey != "" {
			indexOpts = append(indexOpts, vectorindex.WithEncryptionKey(cfg.VectorStoreKey))
		}
		filter := core.NewCandidateFilter(cfg.RetrievalFilter, gemini, cfg.SimilarityThreshold)
		rag, err := core.NewRAGService(ctx, gemini, filter, cfg.IndexFile(), cfg.TopK, indexOpts...)
		if err != nil {
			log.Printf("Error initializing RAG service, limited functionality available: %v", err)
		} else {
			rag.SetDebug(cfg.Debug())
			oracle, retriever, indexer = gemini, rag, rag
		}
	}

	splitter := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	documentService := core.NewDocumentService(indexer, pdfloader.NewPDFExtractor(), splitter, dbStore, cfg.PDFDir, cfg.PreferredPDF)
	chatService := core.NewChatService(oracle, retriever, dbStore)

	if *ingest {
		log.Printf("Starting ingestion from %s...", cfg.PDFDir)
		n, err := documentService.IndexAllConfigured(ctx)
		if err != nil {
			log.Fatalf("Ingestion failed: %v", err)
		}
		log.Printf("Ingestion complete. Indexed %d chunks. Exiting.", n)
		return
	}

	router := api.NewRouter(api.NewAPIHandler(chatService, documentService))

	serverAddr := net.JoinHostPort(cfg.Host, cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second, // PDF uploads
		WriteTimeout: 5 * time.Minute,  // indexing embeds and persists whole documents
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exiting gracefully")
}
