package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightboard/videoforge/internal/api"
	"github.com/brightboard/videoforge/internal/config"
	"github.com/brightboard/videoforge/internal/knowledge"
	"github.com/brightboard/videoforge/internal/media"
	"github.com/brightboard/videoforge/internal/narrate"
	"github.com/brightboard/videoforge/internal/oracle"
	"github.com/brightboard/videoforge/internal/pipeline"
	"github.com/brightboard/videoforge/internal/queue"
	"github.com/brightboard/videoforge/internal/render"
	"github.com/brightboard/videoforge/internal/store"
)

func main() {
	log.Println("Starting VideoForge API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Job store: Postgres when configured, in-memory otherwise (dev mode)
	var jobStore store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		jobStore = pg
		log.Println("Connected to database")
	} else {
		jobStore = store.NewMemoryStore()
		log.Println("WARNING: No DATABASE_URL set — using in-memory job store (dev mode)")
	}

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	handler := api.NewHandler(jobStore, q)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		var oracleClient oracle.Client
		switch cfg.OracleProvider {
		case "openai":
			oracleClient = oracle.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
			log.Printf("Planning oracle: OpenAI-compatible (model: %s)", cfg.OpenAIModel)
		default:
			oracleClient = oracle.NewGeminiClient(cfg.GeminiKey, cfg.GeminiModel)
			log.Printf("Planning oracle: Gemini (model: %s)", cfg.GeminiModel)
		}

		var synth narrate.Synthesizer
		if cfg.ElevenLabsKey != "" {
			synth = narrate.NewElevenLabs(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
			log.Printf("Narration: ElevenLabs (voice: %s)", cfg.ElevenLabsVoiceID)
		} else {
			log.Println("Narration disabled — no ELEVENLABS_API_KEY set")
		}

		remotion := render.NewRemotionRenderer(cfg.NpxBin, cfg.RemotionProjectDir, cfg.RemotionTimeout)
		orch := pipeline.NewOrchestrator(pipeline.Deps{
			Store:     jobStore,
			Oracle:    oracleClient,
			Knowledge: knowledge.NewLoader(cfg.SkillsDir, cfg.RemotionPromptPath),
			Manim:     render.NewManimRenderer(cfg.ManimBin, cfg.ManimTimeout),
			Remotion:  remotion,
			Stager:    remotion,
			Synth:     synth,
			Merger:    media.NewService(cfg.FFmpegBin, cfg.FFprobeBin, cfg.FFmpegTimeout),
			OutputDir: cfg.OutputDir,
		})

		w := pipeline.NewWorker(q, orch, cfg.MaxConcurrentJobs)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx)
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
