package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pointdeck/pointdeck/src/api/config"
	"github.com/pointdeck/pointdeck/src/api/data"
	"github.com/pointdeck/pointdeck/src/api/ingest"
	"github.com/pointdeck/pointdeck/src/api/webserver"
)

var configPath = flag.String("config", "", "path to config file (optional)")

func main() {
	flag.Parse()

	// .env is for local development; missing file is fine
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db := data.MustMySQL(cfg.MySQL.DSN)
	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	rdb := data.MustRedis(cfg.Redis.URL)

	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Ingest.Enabled {
		extractor := ingest.NewExtractor(ingest.FactoryConfig{
			Provider:  cfg.Ingest.Provider,
			OpenAIKey: cfg.Ingest.OpenAIKey,
			ClaudeKey: cfg.Ingest.ClaudeKey,
			Model:     cfg.Ingest.Model,
		})
		var store ingest.FileStore = ingest.NopStore{}
		if cfg.Ingest.ImageDir != "" {
			store = ingest.DirStore{Dir: cfg.Ingest.ImageDir}
		}
		worker := ingest.NewWorker(db, extractor, store, cfg.Ingest.PollInterval, cfg.Ingest.FailureRetention)
		go worker.Run(ctx)
		log.Printf("issue ingestion worker started (provider: %s)", cfg.Ingest.Provider)
	}

	router := webserver.New(cfg, db, rdb)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	log.Printf("PointDeck API listening on %s", cfg.Server.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}
