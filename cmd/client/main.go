package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aeolun/chatsync/pkg/client"
	"github.com/aeolun/chatsync/pkg/client/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Command line flags
	configPath := flag.String("config", client.DefaultConfigPath(), "Path to config file")
	server := flag.String("server", "", "Server address (host:port, overrides config)")
	statePath := flag.String("state", "", "Path to state database (overrides config)")
	debugLog := flag.String("debug", "", "Write debug logs to this file")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (overrides config)")
	resetConfig := flag.Bool("reset-config", false, "Reset the config file to defaults (keeps a backup) and exit")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("chatsync %s\n", Version)
		os.Exit(0)
	}

	if *resetConfig {
		if err := client.ResetConfigToDefault(*configPath, true); err != nil {
			log.Fatalf("Failed to reset config: %v", err)
		}
		fmt.Printf("Config reset: %s\n", *configPath)
		os.Exit(0)
	}

	// The TUI owns the terminal, so logs go to a file or nowhere
	logger := log.New(io.Discard, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	if *debugLog != "" {
		f, err := os.OpenFile(*debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open debug log: %v", err)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	// Load configuration (creates default if not found)
	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		var cfgErr *client.ConfigError
		if errors.As(err, &cfgErr) {
			log.Fatalf("Invalid config %s: %v", cfgErr.Path, cfgErr)
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *server != "" {
		config.Connection.Server = *server
	}
	if *statePath != "" {
		config.Local.StateDB = *statePath
	}
	if *metricsAddr != "" {
		config.Metrics.ListenAddr = *metricsAddr
	}

	dbPath, err := config.GetStateDBPath()
	if err != nil {
		log.Fatalf("Failed to resolve state path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create state directory: %v", err)
	}

	// Open state database
	state, err := client.OpenState(dbPath)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer state.Close()

	registry := prometheus.NewRegistry()
	metrics := client.NewMetrics(registry)
	if addr := config.Metrics.ListenAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			logger.Printf("Serving metrics on http://%s/metrics", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	transport := client.NewTransport(config.TransportConfig(),
		client.WithLogger(logger),
		client.WithMetrics(metrics),
	)
	defer transport.Close()

	api := client.NewAPIClient(config.APIBaseURL(),
		client.WithRequestTimeout(config.RequestTimeout()),
		client.WithAPILogger(logger),
		client.WithAPIMetrics(metrics),
	)

	var notifier client.Notifier = client.NoopNotifier{}
	if config.UI.Notifications {
		notifier = client.NewDesktopNotifier(state, logger)
	}

	session := client.NewSession(transport, api,
		client.WithSessionLogger(logger),
		client.WithSessionMetrics(metrics),
		client.WithNotifier(notifier),
		client.WithTypingTimeout(config.TypingDebounce()),
		client.WithTypingExpiry(config.TypingExpiry()),
		client.WithDefaultRoom(config.UI.DefaultRoom),
		client.WithDarkMode(config.UI.DarkMode),
	)

	identity := client.NewIdentityStore(state,
		client.WithAvatarBaseURL(config.Local.AvatarBaseURL),
		client.WithIdentityLogger(logger),
	)
	app := client.NewApp(identity, transport, session, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go session.WatchConnection(ctx, transport.StateChanges())

	logger.Printf("chatsync %s connecting to %s", Version, config.SocketURL())
	resumed, resumeErr := app.Resume(ctx)
	if resumeErr != nil {
		logger.Printf("Resume failed: %v", resumeErr)
	}

	model := ui.NewModel(ctx, app, session, resumed, resumeErr, logger)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}

	session.Stop()
}
