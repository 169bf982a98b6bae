package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/corbeau/kbserve/internal/ai"
	"github.com/corbeau/kbserve/internal/config"
	"github.com/corbeau/kbserve/internal/db"
	"github.com/corbeau/kbserve/internal/filestore"
	"github.com/corbeau/kbserve/internal/handler"
	"github.com/corbeau/kbserve/internal/ingest"
	"github.com/corbeau/kbserve/internal/job"
	"github.com/corbeau/kbserve/internal/middleware"
	"github.com/corbeau/kbserve/internal/repo"
	"github.com/corbeau/kbserve/internal/retrieval"
	"github.com/corbeau/kbserve/internal/schedule"
	"github.com/corbeau/kbserve/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kbserve",
		Short: "knowledge base ingestion and retrieval server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run kbserve server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			dbConn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(dbConn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, dbConn)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, dbConn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("file_store", cfg.FileStore.Type),
	)

	docRepo := repo.NewDocumentRepo(dbConn)
	chunkRepo := repo.NewChunkRepo(dbConn)
	queryLogRepo := repo.NewQueryLogRepo(dbConn)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	provider, err := ai.NewProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	embedder := ai.NewThrottledEmbedder(
		ai.NewEmbedder(provider, cfg.AI.EmbedModel),
		time.Duration(cfg.AI.EmbedDelayMS)*time.Millisecond,
		time.Duration(cfg.AI.Timeout)*time.Second,
	)
	var gen ai.IGenerator
	if cfg.Ingest.Contextual && cfg.AI.GenModel != "" {
		gen = ai.NewGenerator(provider, cfg.AI.GenModel)
	}

	chunker := ingest.NewChunker(gen, ingest.ChunkOptions{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		MinChunkSize: cfg.Ingest.MinChunkSize,
	})
	processor := ingest.NewProcessor(docRepo, chunkRepo, store, embedder, chunker, nil)

	var queryLogStore retrieval.QueryLogStore
	if cfg.QueryLog.Enabled {
		queryLogStore = queryLogRepo
	}
	retriever := retrieval.NewRetriever(chunkRepo, embedder, docRepo, queryLogStore, nil)

	rerankProvider, err := retrieval.NewRerankProvider(cfg.Rerank.Provider, cfg.Rerank.Data)
	if err != nil {
		return fmt.Errorf("init rerank provider: %w", err)
	}
	var reranker *retrieval.Reranker
	if rerankProvider != nil {
		reranker = retrieval.NewReranker(rerankProvider, cfg.Rerank.Model, time.Duration(cfg.Rerank.Timeout)*time.Second)
	}

	documentService := service.NewDocumentService(docRepo, chunkRepo, store, processor)
	queryService := service.NewQueryService(
		retriever,
		reranker,
		retrieval.Options{
			TopK:              cfg.Retrieval.TopK,
			UseHybrid:         *cfg.Retrieval.UseHybrid,
			RRFK:              cfg.Retrieval.RRFK,
			SemanticThreshold: cfg.Retrieval.SemanticThreshold,
			CandidateLimit:    cfg.Retrieval.CandidateLimit,
		},
		cfg.Rerank.TopK,
		cfg.AI.EmbedModel,
		cfg.QueryLog.Enabled,
	)

	deps := handler.RouterDeps{
		Documents: handler.NewDocumentHandler(documentService),
		Query:     handler.NewQueryHandler(queryService),
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewPendingSweepJob(processor, docRepo), cfg.Ingest.SweepCron); err != nil {
		return fmt.Errorf("schedule pending sweep: %w", err)
	}
	if cfg.QueryLog.Enabled {
		if err := scheduler.AddJob(job.NewQueryLogCleanupJob(queryLogRepo, cfg.QueryLog.RetentionDays), cfg.QueryLog.CleanupCron); err != nil {
			return fmt.Errorf("schedule query log cleanup: %w", err)
		}
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSOrigins),
			middleware.RequestID(),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	scheduler.Stop()
	if err := dbConn.Close(); err != nil {
		logutil.GetLogger(context.Background()).Warn("close db", zap.Error(err))
	}
	return nil
}
