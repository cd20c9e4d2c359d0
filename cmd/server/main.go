package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/api"
	"github.com/yourusername/remotedl-go/internal/app"
	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/internal/infrastructure"
	"github.com/yourusername/remotedl-go/pkg/logger"
)

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	foreground = flag.Bool("foreground", false, "Run in the foreground instead of detaching")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	if !*serverMode && !*foreground {
		startAsDaemon()
		return
	}

	runServer()
}

// startAsDaemon re-executes the binary in server mode, detached from the
// terminal
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	detach(cmd)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", os.DevNull, err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
	os.Exit(0)
}

func runServer() {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Daemon traffic and errors go to dated files in the logs directory
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir(),
	})
	if err != nil {
		log.Fatal("Failed to initialize category logs", zap.Error(err))
	}
	defer multiLog.Close()

	log.Info("Starting remotedl server",
		zap.String("version", "1.0.0"),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("movies_dir", config.Download.MoviesDir),
		zap.String("daemon_transport", config.Daemon.Transport))

	if err := os.MkdirAll(config.Download.IncompleteDir(), 0755); err != nil {
		log.Fatal("Failed to create incomplete downloads directory", zap.Error(err))
	}

	repo, err := infrastructure.NewSQLiteDownloadRepository(config.Database.Path)
	if err != nil {
		log.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	notifier := infrastructure.NewNotificationService(&config.Notification, log)

	var dialer infrastructure.Dialer
	switch config.Daemon.Transport {
	case domain.TransportWebSocket:
		dialer = infrastructure.WebSocketDialer(config.Daemon.URL, config.Resolver.UserAgent, log)
	default:
		dialer = infrastructure.ProcessDialer(config.Daemon, config.Download.LogsDir(), log)
	}
	daemon := infrastructure.NewDaemonClient(dialer, config.Daemon, log)

	manager := app.NewManager(
		config,
		repo,
		daemon,
		infrastructure.NewHTTPProber(config.Resolver, log),
		infrastructure.NewPageScraper(config.Resolver, log),
		infrastructure.NewMetainfoInspector(),
		log,
		app.WithMultiLogger(multiLog),
		app.WithRestoredConsumer(func(info app.DownloadInfo) domain.Consumer {
			return app.NewRequestItem(info.OriginalURL, "", info.ChannelName, notifier, log)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		multiLog.LogAppError("Failed to start download manager", zap.Error(err))
		log.Fatal("Failed to start download manager", zap.Error(err))
	}

	router := api.SetupRouter(api.RouterConfig{
		Downloads:   manager,
		Records:     repo,
		Notifier:    notifier,
		Logger:      log,
		MultiLogger: multiLog,
		LogsDir:     config.Download.LogsDir(),
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping download manager", zap.Error(err))
	}

	log.Info("Server exited")
}
