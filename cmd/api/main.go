package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prooflab/api/internal/app"
	"prooflab/api/internal/blob"
	"prooflab/api/internal/config"
	"prooflab/api/internal/gitrepo"
	"prooflab/api/internal/search"
	"prooflab/api/internal/session"
	"prooflab/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := store.ApplyMigrations(migrateCtx, db, cfg.MigrationsDir); err != nil {
		cancel()
		log.Fatalf("apply migrations: %v", err)
	}
	cancel()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("create repos dir: %v", err)
	}

	pgStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)

	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		log.Printf("search: meilisearch at %s", cfg.MeiliURL)
	} else {
		log.Print("search: postgres full-text only")
	}
	searchService := search.NewService(meili, search.NewPgFTS(db))

	var service *app.Service
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisStore.Close()
		log.Print("sessions: redis")
		service = app.NewWithSessionStore(cfg, pgStore, redisStore, gitService, searchService)
	} else {
		log.Print("sessions: postgres")
		service = app.New(cfg, pgStore, gitService, searchService)
	}

	if cfg.BlobEndpoint != "" {
		blobCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		blobStore, err := blob.New(blobCtx, blob.Config{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			UseSSL:    cfg.BlobUseSSL,
		})
		cancel()
		if err != nil {
			log.Fatalf("connect object store: %v", err)
		}
		service.SetBlobStore(blobStore)
		log.Printf("exports: archiving to %s/%s", cfg.BlobEndpoint, cfg.BlobBucket)
	}

	reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	searchService.ReindexAllFromPG(reindexCtx)
	cancel()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		errs <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		log.Fatalf("server: %v", err)
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
