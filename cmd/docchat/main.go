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

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/db"
	"github.com/docchat/docchat/internal/filestore"
	"github.com/docchat/docchat/internal/handler"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/job"
	"github.com/docchat/docchat/internal/middleware"
	"github.com/docchat/docchat/internal/repo"
	"github.com/docchat/docchat/internal/retrieval"
	"github.com/docchat/docchat/internal/router"
	"github.com/docchat/docchat/internal/schedule"
	"github.com/docchat/docchat/internal/service"
	"github.com/docchat/docchat/internal/worker"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docchat",
		Short: "docchat backend server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run docchat server",
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

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(database, cfg.AI.EmbedDim); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, database *sql.DB) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logutil.GetLogger(rootCtx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("ai_provider", cfg.AI.Provider),
	)

	docRepo := repo.NewDocumentRepo(database)
	chunkRepo := repo.NewChunkRepo(database)
	lexicalRepo := repo.NewLexicalRepo(database)
	vectorRepo := repo.NewVectorRepo(database)
	txRunner := repo.NewTxRunner(database)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	provider, err := ai.NewProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	manager := ai.NewManager(provider, ai.ManagerConfig{
		Model:      cfg.AI.Model,
		EmbedModel: cfg.AI.EmbedModel,
		EmbedDim:   cfg.AI.EmbedDim,
		Timeout:    cfg.AI.Timeout,
	})

	engine := retrieval.NewEngine(lexicalRepo, vectorRepo, chunkRepo, docRepo, manager, retrieval.Config{
		RelevanceThreshold: cfg.Retrieval.RelevanceThreshold,
		TopK:               cfg.Retrieval.TopK,
		AmbiguityMargin:    cfg.Retrieval.AmbiguityMargin,
	})

	registry, err := router.NewRegistry(rootCtx, cfg.Tools, manager)
	if err != nil {
		return fmt.Errorf("init tool registry: %w", err)
	}
	registry.RegisterLocal("time", func(ctx context.Context, args map[string]string) (string, error) {
		return time.Now().Format(time.RFC3339), nil
	})
	turnRouter := router.New(engine, registry, manager, manager, router.Config{
		ToolThreshold: cfg.Router.ToolThreshold,
		PendingTTL:    time.Duration(cfg.Router.PendingTTLMinutes) * time.Minute,
	})

	pool := worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize)
	pool.Start(rootCtx)
	defer pool.Stop()

	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	ingestService := service.NewIngestService(docRepo, chunkRepo, lexicalRepo, vectorRepo, store, manager, txRunner, chunker, cfg.Ingest.EmbedConcurrency)
	deleteService := service.NewDeleteService(docRepo, chunkRepo, lexicalRepo, vectorRepo, store, cfg.Delete)
	documentService := service.NewDocumentService(docRepo, store, pool, ingestService, deleteService)
	chatService := service.NewChatService(turnRouter, registry, manager)

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewIngestSweepJob(docRepo, pool, ingestService, 1800), "* * * * *"); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewDeleteSweepJob(docRepo, pool, deleteService, 300), "* * * * *"); err != nil {
		return err
	}
	scheduler.Start(rootCtx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Documents: handler.NewDocumentHandler(documentService),
		Chat:      handler.NewChatHandler(chatService),
		Tools:     handler.NewToolHandler(registry),
	}

	engineAPI, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSHosts),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(rootCtx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engineAPI.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
