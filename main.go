package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loopdeck/loopdeck/internal/applog"
	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/db"
	"github.com/loopdeck/loopdeck/internal/hostinfo"
	"github.com/loopdeck/loopdeck/internal/notify"
	"github.com/loopdeck/loopdeck/internal/proc"
	"github.com/loopdeck/loopdeck/internal/server"
	"github.com/loopdeck/loopdeck/internal/tunnel"
	"github.com/loopdeck/loopdeck/internal/ui"
)

const hostPollInterval = 30 * time.Second

func usage() {
	fmt.Fprintf(os.Stderr, `loopdeck - control plane for agent loop sessions

Usage:
  loopdeck [serve]                   start the API server (default)
  loopdeck status                    live terminal dashboard
  loopdeck tunnel start|status|stop  manage the cloudflared tunnel

Flags (tunnel start):
  --domain   custom hostname to route to the tunnel
  --name     tunnel name (default %q)
`, tunnel.DefaultName)
}

func openDB() (*db.DB, error) {
	dbPath := config.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}
	store, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func loadConfig() config.Config {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
	}
	return cfg
}

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "status":
		err = runStatus()
	case "tunnel":
		err = runTunnel(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg := loadConfig()

	logger, logCloser, err := applog.Init(applog.InitConfig{
		LogDir:   cfg.LogDir,
		LogLevel: cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		logger = slog.Default()
	} else {
		defer logCloser.Close()
	}

	store, err := openDB()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	// Runs still marked live belong to a previous server process.
	if n, err := store.MarkStaleRuns("server restarted"); err != nil {
		logger.Warn("could not mark stale runs", "err", err)
	} else if n > 0 {
		logger.Info("marked stale runs as failed", "count", n)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := proc.NewRegistry()
	notifier := notify.New(cfg.Notifications, logger)

	srv := server.New(cfg, store, registry, notifier, logger)
	srv.DiscoverAndTail(ctx)

	poller := hostinfo.NewPoller(store, hostPollInterval, logger)
	poller.Start()
	defer poller.Stop()

	if err := srv.Start(); err != nil {
		return err
	}

	if cfg.Tunnel.Enabled {
		mgr := tunnel.NewManager(cfg.Tunnel.Binary, cfg.SessionsRoot, logger)
		if st, err := mgr.Start(cfg.Server.Port, "", ""); err != nil {
			logger.Warn("tunnel start failed", "err", err)
		} else {
			logger.Info("tunnel up", "url", st.URL)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	registry.TerminateAll(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func runStatus() error {
	cfg := loadConfig()
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	return ui.NewStatusApp(baseURL).Run()
}

func runTunnel(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("tunnel: expected start, status or stop")
	}

	cfg := loadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	mgr := tunnel.NewManager(cfg.Tunnel.Binary, cfg.SessionsRoot, logger)

	switch args[0] {
	case "start":
		fs := flag.NewFlagSet("tunnel start", flag.ExitOnError)
		domain := fs.String("domain", "", "custom hostname to route to the tunnel")
		name := fs.String("name", tunnel.DefaultName, "tunnel name")
		fs.Parse(args[1:])

		st, err := mgr.Start(cfg.Server.Port, *domain, *name)
		if err != nil {
			return err
		}
		fmt.Printf("tunnel %s up\n  %s -> http://%s:%d\n", st.Name, st.URL, cfg.Server.Host, st.Port)
		return nil
	case "status":
		st, err := mgr.Status()
		if err != nil {
			return err
		}
		fmt.Printf("tunnel %s running\n  url: %s\n  pid: %d\n  uptime: %s\n",
			st.Name, st.URL, st.PID, st.Uptime(time.Now()))
		return nil
	case "stop":
		if err := mgr.Stop(); err != nil {
			return err
		}
		fmt.Println("tunnel stopped")
		return nil
	default:
		return fmt.Errorf("tunnel: unknown subcommand %q", args[0])
	}
}
