// vidsplit/main.go
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vidsplit/api"
	"vidsplit/config"
	"vidsplit/ffmpeg"
	"vidsplit/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize the ffmpeg toolchain
	manifests, err := ffmpeg.NewManifestWriter(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize manifest writer: %v", err)
	}
	defer func() {
		if err := manifests.Cleanup(); err != nil {
			log.Printf("Warning: failed to remove temp directory %s: %v", cfg.TempDir, err)
		}
	}()

	ffmpegRunner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg runner: %v", err)
	}

	locator := ffmpeg.NewLocator(cfg)
	if tools, err := locator.Locate(); err != nil {
		// Not fatal: the tools may be installed before the first job.
		log.Printf("Warning: %v", err)
	} else {
		log.Printf("Using ffmpeg at %s, ffprobe at %s", tools.FFmpeg, tools.FFprobe)
	}

	// 3. Initialize task manager with the toolchain
	taskManager, err := task.NewManager(cfg, task.Toolchain{
		Locator:   locator,
		Prober:    ffmpeg.NewProber(),
		Manifests: manifests,
		Runner:    ffmpegRunner,
	})
	if err != nil {
		log.Fatalf("Failed to initialize task manager: %v", err)
	}

	// 4. Set up router and server
	router := api.SetupRouter(taskManager, cfg)
	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.ListenAddr, cfg.Port),
		Handler: router,
	}

	// 5. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)

	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	// Cancelling ctx above also kills a running ffmpeg through its job context.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
