// Telenode is a battery-aware telemetry node.
//
// Each cycle it samples motion and climate readings, evaluates alert
// conditions, and publishes telemetry and state to an MQTT broker,
// buffering while the broker is unreachable. When nothing is wrong, or
// when the sleep button is held, it announces the halt, blinks its
// indicator and powers down until the button wakes it.
//
// Usage:
//
//	telenode run              Run the node until it halts
//	telenode init [dir]       Write an example config into dir
//	telenode version          Print version and build information
//	telenode -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/telenode/internal/buildinfo"
	"github.com/nugget/telenode/internal/config"
	"github.com/nugget/telenode/internal/connwatch"
	"github.com/nugget/telenode/internal/metrics"
	"github.com/nugget/telenode/internal/mqtt"
	"github.com/nugget/telenode/internal/node"
	"github.com/nugget/telenode/internal/opstate"
	"github.com/nugget/telenode/internal/platform"
	"github.com/nugget/telenode/internal/sensor"
	"github.com/nugget/telenode/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of the
// application logic so the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's globals get in the way of calling run from parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "run":
		return runNode(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range buildinfo.Keys[1:] {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Telenode - battery-aware telemetry node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: telenode [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run          Run the node until it halts")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runNode loads the config, wires the node and runs it until it halts
// or a signal arrives.
func runNode(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting telenode", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate has already checked the level name.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"path", cfgPath,
		"device", cfg.Node.DeviceName,
		"broker", cfg.MQTT.Broker,
		"cycle", cfg.Node.Cycle().String(),
	)

	// --- Data directory ---
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.Node.DataDir, err)
	}

	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	clientID := mqtt.ClientID(cfg.Node.DeviceName, instanceID)

	dbPath := filepath.Join(cfg.Node.DataDir, "telenode.db")
	store, err := opstate.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open state database %s: %w", dbPath, err)
	}
	defer store.Close()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// --- Transport ---
	var transport connwatch.Transport = offline{}
	if cfg.MQTT.Configured() {
		t, err := mqtt.New(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := t.Close(); err != nil {
				logger.Debug("mqtt close", "error", err)
			}
		}()
		transport = t
	} else {
		logger.Warn("mqtt broker not configured, all records will be buffered")
	}

	src, err := newSource(cfg.Sensor, logger)
	if err != nil {
		return err
	}

	n := node.New(node.ConfigFrom(cfg, clientID), node.Deps{
		Source:    src,
		Transport: transport,
		Indicator: platform.NewIndicator(cfg.Power.LEDPin, logger),
		Platform:  platform.NewHost(cfg.Power.WakePin, logger),
		Store:     store,
		Metrics:   m,
		Logger:    logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Status endpoint ---
	if cfg.Status.Enabled {
		srv := status.NewServer(cfg.Status.Address, cfg.Status.Port, n, reg, logger)
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = n.Run(ctx)
	switch {
	case err == nil:
		logger.Info("telenode halted")
	case errors.Is(err, context.Canceled):
		logger.Info("telenode stopped")
	default:
		return err
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// newSource builds the configured sensor source.
func newSource(cfg config.SensorConfig, logger *slog.Logger) (sensor.Source, error) {
	clock := sensor.SinceStart()
	switch cfg.Source {
	case "static":
		v := cfg.Static
		return &sensor.Static{
			Values: sensor.Sample{
				AccelX:      v.AccelX,
				AccelY:      v.AccelY,
				AccelZ:      v.AccelZ,
				GyroX:       v.GyroX,
				GyroY:       v.GyroY,
				GyroZ:       v.GyroZ,
				Temperature: v.Temperature,
				Humidity:    v.Humidity,
				Button:      v.Button,
			},
			Clock: clock,
		}, nil
	case "file":
		return sensor.NewFileSource(cfg.File, clock, logger), nil
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.Source)
	}
}

// offline stands in for the broker when none is configured. Every
// connect fails, so the node buffers and still reaches its halt.
type offline struct{}

var errNoBroker = errors.New("no mqtt broker configured")

func (offline) LinkUp() bool                                 { return false }
func (offline) ConnectLink(context.Context) error            { return errNoBroker }
func (offline) SessionUp() bool                              { return false }
func (offline) ConnectSession(context.Context, string) error { return errNoBroker }
func (offline) Send(context.Context, string, []byte) bool    { return false }
func (offline) Poll()                                        {}
