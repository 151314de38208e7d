package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/k-ogaki/deepwatch/internal/alert"
	"github.com/k-ogaki/deepwatch/internal/config"
	"github.com/k-ogaki/deepwatch/internal/generator"
	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/internal/metrics"
	"github.com/k-ogaki/deepwatch/internal/recorder"
	"github.com/k-ogaki/deepwatch/internal/station"
)

// Version is the station version reported by --version.
const Version = "0.1.0"

var (
	// Command-line flags. Empty or zero values fall back to the
	// STATION_* environment (see internal/config).
	httpPort     string
	metricsPort  string
	pprofAddr    string
	scenarioPath string
	streamFPS    int
	seed         int64
	maxViewers   int
	recordPath   string
	logLevel     string
	logColor     bool
)

var rootCmd = &cobra.Command{
	Use:     "stationd",
	Short:   "DeepWatch sonar telemetry station",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&httpPort, "http-port", "", "HTTP server port")
	flags.StringVar(&metricsPort, "metrics-port", "", "Prometheus metrics port")
	flags.StringVar(&pprofAddr, "pprof", ":6060", "pprof server address")
	flags.StringVar(&scenarioPath, "scenario", "", "Scenario YAML path (empty uses the built-in scenario)")
	flags.IntVar(&streamFPS, "fps", 0, "Stream frame rate")
	flags.Int64Var(&seed, "seed", 0, "Generator seed (0 seeds from the clock)")
	flags.IntVar(&maxViewers, "max-viewers", 0, "Maximum concurrent viewers")
	flags.StringVar(&recordPath, "record-path", "", "Recording output path")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, silent)")
	flags.BoolVar(&logColor, "log-color", true, "Enable colored log output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Load()
	applyFlagOverrides(cfg)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.Init(level, os.Stderr, logColor)

	logger.Info("Main", "DeepWatch station starting...")
	logger.Info("Main", "Log level: %s", level)

	if err := os.MkdirAll(cfg.RecordDir, 0755); err != nil {
		return fmt.Errorf("create recordings directory: %w", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		return fmt.Errorf("create station: %w", err)
	}

	app.Start()
	<-ctx.Done()

	logger.Info("Main", "Shutting down...")
	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Station stopped")
	return nil
}

func applyFlagOverrides(cfg *config.Config) {
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}
	if metricsPort != "" {
		cfg.MetricsPort = metricsPort
	}
	if scenarioPath != "" {
		cfg.ScenarioPath = scenarioPath
	}
	if streamFPS > 0 {
		cfg.StreamFPS = streamFPS
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if maxViewers > 0 {
		cfg.MaxViewers = maxViewers
	}
	if recordPath != "" {
		cfg.RecordDir = recordPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

// App owns every station component and their lifecycles.
type App struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	hub        *station.Hub
	sched      *station.Scheduler
	recorder   *recorder.Recorder
	alerts     *alert.Emitter
	httpServer *http.Server
}

// NewApp wires the generator, hub, scheduler, recorder and optional
// alert emitter behind one HTTP server.
func NewApp(cfg *config.Config) (*App, error) {
	m := metrics.New()

	sc := generator.DefaultScenario()
	if cfg.ScenarioPath != "" {
		loaded, err := generator.LoadScenario(cfg.ScenarioPath)
		if err != nil {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
		sc = loaded
	}

	genSeed := cfg.Seed
	if genSeed == 0 {
		genSeed = time.Now().UnixNano()
	}
	gen := generator.New(sc, genSeed, generator.Options{
		Width:        cfg.FrameWidth,
		Height:       cfg.FrameHeight,
		JPEGQuality:  cfg.JPEGQuality,
		IncludeImage: true,
	})

	hub := station.NewHub(cfg.MaxViewers, m)
	rec := recorder.NewRecorder(cfg.RecordDir)

	var alerts *alert.Emitter
	if cfg.MQTTEnabled() {
		alerts = alert.NewEmitter(cfg.MQTTBroker, cfg.MQTTTopic, cfg.MQTTClientID, m)
	}

	sched := station.NewScheduler(gen, hub, cfg.StreamInterval(), rec, alerts, m)
	srv := station.NewServer(cfg, hub, sched, rec, m)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: withCORS(cfg.CORSOrigins, srv.Handler()),
	}

	return &App{
		cfg:        cfg,
		metrics:    m,
		hub:        hub,
		sched:      sched,
		recorder:   rec,
		alerts:     alerts,
		httpServer: httpServer,
	}, nil
}

// Start launches the servers and the stream.
func (a *App) Start() {
	logger.Info("Main", "  Scenario: %s", a.sched.Scenario().Name)
	logger.Info("Main", "  Stream: %d fps, %dx%d",
		a.cfg.StreamFPS, a.cfg.FrameWidth, a.cfg.FrameHeight)
	logger.Info("Main", "  HTTP server: :%s", a.cfg.HTTPPort)
	logger.Info("Main", "  Metrics server: :%s", a.cfg.MetricsPort)
	logger.Info("Main", "  Recording path: %s", a.cfg.RecordDir)
	logger.Info("Main", "  Stream URL: ws://%s:%s/ws/stream", station.LANIP(), a.cfg.HTTPPort)

	go func() {
		logger.Info("Main", "Starting pprof server on %s", pprofAddr)
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			logger.Warn("Main", "pprof server error: %v", err)
		}
	}()

	go func() {
		logger.Info("Main", "Starting metrics server on :%s", a.cfg.MetricsPort)
		if err := a.metrics.StartServer(":" + a.cfg.MetricsPort); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if a.alerts != nil {
		if err := a.alerts.Connect(); err != nil {
			logger.Warn("Main", "MQTT broker unreachable, alerts disabled until reconnect: %v", err)
		}
	}

	a.sched.Start()
	logger.Info("Main", "Station started successfully")
}

// Shutdown stops the stream, disconnects viewers and drains the
// recorder before closing the HTTP server.
func (a *App) Shutdown() error {
	a.sched.Stop()
	a.hub.CloseAll("station shutting down")

	if err := a.recorder.Close(); err != nil {
		logger.Warn("Main", "Recorder close: %v", err)
	}
	if a.alerts != nil {
		a.alerts.Disconnect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.httpServer.Shutdown(ctx)
}

// withCORS mirrors the dashboard-facing CORS policy across every
// route, including preflight.
func withCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
