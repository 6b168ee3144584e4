package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/CrimsonAJ/proxibase/internal/config"
	"github.com/CrimsonAJ/proxibase/internal/logging"
	"github.com/CrimsonAJ/proxibase/internal/server"
	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// envOrDefault returns the environment variable value if set, otherwise the fallback.
func envOrDefault(envKey, fallback string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return fallback
}

func main() {
	dataDir := flag.String("data", envOrDefault("PROXIBASE_DATA", "data"), "Data directory for config and sites (env: PROXIBASE_DATA)")
	configPath := flag.String("config", envOrDefault("PROXIBASE_CONFIG", ""), "Override config file path (env: PROXIBASE_CONFIG)")
	listenAddr := flag.String("listen", "", "Override proxy listen address, e.g. :8080 (env: PROXIBASE_LISTEN)")
	adminHost := flag.String("admin-host", "", "Override the Host header that routes to the admin surface (env: ADMIN_HOST)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if !filepath.IsAbs(*dataDir) {
		if exe, err := os.Executable(); err == nil {
			if resolved, err := filepath.EvalSymlinks(exe); err == nil {
				*dataDir = filepath.Join(filepath.Dir(resolved), *dataDir)
			}
		}
	}

	if *configPath == "" {
		*configPath = filepath.Join(*dataDir, "config.yaml")
	}

	if *showVersion {
		fmt.Printf("ProxiBase %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile := filepath.Join(*dataDir, "proxibase.log")
	if err := logging.Init(logging.Config{
		Level:   logging.Level(cfg.Server.LogLevel),
		Format:  "text",
		Output:  "stdout",
		LogFile: logFile,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	} else if v := os.Getenv("PROXIBASE_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if *adminHost != "" {
		cfg.Admin.Host = *adminHost
	} else if v := os.Getenv("ADMIN_HOST"); v != "" {
		cfg.Admin.Host = v
	}

	sitesPath := cfg.Server.SitesFile
	if !filepath.IsAbs(sitesPath) {
		sitesPath = filepath.Join(*dataDir, sitesPath)
	}
	sites, err := siteconfig.Load(sitesPath)
	if err != nil {
		logging.Error("Failed to load sites", "source", "main", "error", err)
		os.Exit(1)
	}

	sessionSecret := os.Getenv("PROXIBASE_SESSION_SECRET")
	if sessionSecret == "" {
		logging.Warn("PROXIBASE_SESSION_SECRET is not set; generating an ephemeral secret for this run, which invalidates sessions on restart", "source", "main")
		sessionSecret = fmt.Sprintf("ephemeral-%d", os.Getpid())
	}

	srv, err := server.New(cfg, sites, sessionSecret, version)
	if err != nil {
		logging.Error("Failed to create server", "source", "main", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server error", "source", "main", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	logging.Info("Shutting down", "source", "main")

	if err := srv.Stop(); err != nil {
		logging.Error("Error during shutdown", "source", "main", "error", err)
	}

	logging.Info("Goodbye!", "source", "main")
}
