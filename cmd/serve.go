package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/api"
	"github.com/joescharf/tracker/internal/daemon"
	"github.com/joescharf/tracker/internal/health"
	"github.com/joescharf/tracker/internal/llm"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/ratelimit"
	"github.com/joescharf/tracker/internal/store"
	webui "github.com/joescharf/tracker/internal/ui"
)

const (
	stopTimeout          = 15 * time.Second
	sessionSweepInterval = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and web UI server",
	Long: `Run the HTTP server in the foreground. It serves the REST API under
/api, health probes under /health and the embedded web UI on every other path.

Use 'tracker serve start' to run it in the background instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 3000, "Port to listen on")
	serveCmd.PersistentFlags().String("host", "127.0.0.1", "Interface to bind")
	_ = viper.BindPFlag("server.port", serveCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.PersistentFlags().Lookup("host"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "tracker-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "tracker-serve.log")
}

func serveAddr() string {
	return net.JoinHostPort(viper.GetString("server.host"), strconv.Itoa(viper.GetInt("server.port")))
}

// newHandler assembles the API server and its optional collaborators. The
// returned cleanup releases anything opened here, not the store.
func newHandler(ctx context.Context, s store.Store) (http.Handler, func(), error) {
	authSvc, sessionPing, closeAuth, err := newAuthService(ctx, s)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}

	checker := health.NewChecker(buildVersion)
	checker.Register("database", s.Ping)
	if sessionPing != nil {
		checker.Register("redis", sessionPing)
	}

	opts := api.Options{
		CORSOrigins: viper.GetStringSlice("server.cors_origins"),
		TrustProxy:  viper.GetBool("server.trust_proxy"),
		Health:      checker,
	}

	stop := make(chan struct{})
	if viper.GetBool("ratelimit.enabled") {
		limiter := ratelimit.New(viper.GetInt("ratelimit.requests_per_minute"))
		go limiter.Run(time.Minute, stop)
		opts.RateLimiter = limiter
	}
	if sessionPing == nil {
		// SQL sessions; redis expires its own keys.
		go sweepSessions(s, sessionSweepInterval, stop)
	}

	if key := viper.GetString("anthropic.api_key"); key != "" {
		opts.Enricher = llm.NewClient(key, viper.GetString("anthropic.model"))
	} else {
		slog.Debug("anthropic.api_key not set, issue enrichment disabled")
	}

	static, err := webui.Handler()
	if err != nil {
		close(stop)
		closeAuth()
		return nil, nil, fmt.Errorf("ui: %w", err)
	}
	opts.Static = static

	srv := api.NewServer(s, authSvc, opts)
	cleanup := func() {
		close(stop)
		closeAuth()
	}
	return srv.Router(), cleanup, nil
}

// sweepSessions deletes expired SQL sessions every interval until stop is
// closed.
func sweepSessions(s store.Store, interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			n, err := s.DeleteExpiredSessions(context.Background(), time.Now().UTC())
			if err != nil {
				slog.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("swept expired sessions", "count", n)
			}
		case <-stop:
			return
		}
	}
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pf := pidFile()
	if st, err := pf.Status(); err == nil && st.PID != os.Getpid() {
		return fmt.Errorf("server already running (PID %d) at %s", st.PID, st.URL())
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	defer s.Close()

	handler, cleanup, err := newHandler(ctx, s)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := serveAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if err := pf.Write(ln.Addr().String()); err != nil {
		_ = ln.Close()
		return fmt.Errorf("write PID file: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	ctx, stopSignals := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stopSignals()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	slog.Info("server listening", "addr", ln.Addr().String(), "version", buildVersion, "db", viper.GetString("db_path"))
	ui.Success("Serving at http://%s", ln.Addr().String())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.shutdown_timeout"))
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if st, err := pf.Status(); err == nil {
		return fmt.Errorf("server already running (PID %d) at %s", st.PID, st.URL())
	}

	if dryRun {
		ui.DryRunMsg("Would start server on %s (log: %s)", serveAddr(), serveLogPath())
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve",
		"--host", viper.GetString("server.host"),
		"--port", strconv.Itoa(viper.GetInt("server.port")),
	}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = os.Environ()
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	// Wait for the child to record itself so start fails fast on bind errors.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, err := pf.Status(); err == nil && st.PID == pid {
			ui.Success("Server started (PID %d) at %s", pid, st.URL())
			ui.Info("Logs: %s", logPath)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not start within 5s, see %s", logPath)
}

func serveStopRun() error {
	if dryRun {
		ui.DryRunMsg("Would stop the background server")
		return nil
	}
	st, err := pidFile().Stop(stopTimeout)
	if errors.Is(err, daemon.ErrNotRunning) {
		return fmt.Errorf("server is not running")
	}
	if err != nil {
		return err
	}
	ui.Success("Stopped server (PID %d)", st.PID)
	return nil
}

func serveStatusRun() error {
	st, err := pidFile().Status()
	if errors.Is(err, daemon.ErrNotRunning) {
		ui.Info("Server is not running")
		return nil
	}
	if err != nil {
		return err
	}

	ui.Success("Server running (PID %d) at %s", st.PID, st.URL())
	ui.Info("Uptime: %s", time.Since(st.StartedAt).Round(time.Second))

	ready := probeReady(st.URL())
	ui.Info("Readiness: %s", output.CheckColor(ready))
	return nil
}

// probeReady asks a running server for its readiness status.
func probeReady(baseURL string) string {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(baseURL + "/health/ready")
	if err != nil {
		return health.StatusDown
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return health.StatusDown
	}
	return health.StatusUp
}
