package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/k-ogaki/deepwatch/internal/client"
	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// Version is the viewer version reported by --version.
const Version = "0.1.0"

var (
	streamURL   string
	label       string
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	displayFPS  int
	logLevel    string
	logColor    bool
)

var rootCmd = &cobra.Command{
	Use:     "dwatch",
	Short:   "Terminal viewer for a DeepWatch station stream",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&streamURL, "url", "u", "ws://localhost:8000/ws/stream", "Station stream URL")
	flags.StringVarP(&label, "label", "l", "dwatch", "Viewer label shown in the station registry")
	flags.DurationVar(&baseDelay, "base-delay", client.DefaultBaseRetryDelay, "Initial reconnect delay")
	flags.DurationVar(&maxDelay, "max-delay", client.DefaultMaxRetryDelay, "Reconnect delay cap")
	flags.IntVar(&maxAttempts, "max-attempts", client.DefaultMaxRetryAttempts, "Reconnect attempts before giving up")
	flags.IntVar(&displayFPS, "display-fps", 30, "Render tick rate")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error, silent)")
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
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.Init(level, os.Stderr, logColor)

	endpoint, err := buildEndpoint(streamURL, label)
	if err != nil {
		return err
	}

	interval := time.Second / 30
	if displayFPS > 0 {
		interval = time.Second / time.Duration(displayFPS)
	}

	// State transitions arrive on the session goroutine; hand them to
	// the terminal loop instead of printing from the callback.
	transitions := make(chan [2]client.ConnState, 16)
	session := client.NewSession(client.Config{
		Endpoint:         endpoint,
		BaseRetryDelay:   baseDelay,
		MaxRetryDelay:    maxDelay,
		MaxRetryAttempts: maxAttempts,
		DisplayInterval:  interval,
		OnStateChange: func(prev, next client.ConnState) {
			select {
			case transitions <- [2]client.ConnState{prev, next}:
			default:
			}
		},
	})
	session.Start()
	defer session.Close()

	fmt.Printf("dwatch %s connecting to %s\n", Version, endpoint)
	fmt.Println("commands: r = reconnect, q = quit")

	lines := readCommands(ctx)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastThreat := telemetry.StateSafe
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil

		case tr := <-transitions:
			fmt.Printf("\r\033[K-- %s -> %s\n", tr[0], tr[1])
			if tr[1] == client.StateFailed {
				fmt.Printf("-- gave up after %d reconnect attempts, press r to reconnect\n",
					session.ReconnectAttempt())
			}

		case <-ticker.C:
			printStatus(session)
			if f := session.RenderedFrame(); f != nil {
				if f.State == telemetry.StateConfirmed && lastThreat != telemetry.StateConfirmed {
					fmt.Printf("\r\033[K!! CONFIRMED anomaly at seq %d (confidence %.2f)\n",
						f.Sequence, f.MaxConfidence)
				}
				lastThreat = f.State
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "r":
				fmt.Printf("\r\033[K-- manual reconnect\n")
				session.ManualReconnect()
			case "q":
				fmt.Println()
				return nil
			}
		}
	}
}

// buildEndpoint validates the stream URL and attaches the viewer
// label the station shows in its registry.
func buildEndpoint(raw, label string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid stream URL scheme %q, want ws or wss", u.Scheme)
	}
	if label != "" {
		q := u.Query()
		q.Set("label", label)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// printStatus rewrites the single status line.
func printStatus(s *client.Session) {
	var seq uint64
	state := "-"
	vis := 0.0
	if f := s.RenderedFrame(); f != nil {
		seq = f.Sequence
		state = string(f.State)
		vis = f.VisibilityScore
	}
	fmt.Printf("\r\033[K[%s] seq=%06d fps=%d threat=%s vis=%.2f attempt=%d",
		s.State(), seq, s.EffectiveFrameRate(), state, vis, s.ReconnectAttempt())
}

// readCommands feeds stdin lines to the main loop. The goroutine
// leaks a blocked Read on shutdown, which is fine for a CLI.
func readCommands(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
