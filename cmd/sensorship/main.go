package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/sensorship"
	"github.com/bft-labs/sensorship/internal/cliconfig"
	"github.com/bft-labs/sensorship/pkg/gateway"
	"github.com/bft-labs/sensorship/pkg/log"
	"github.com/bft-labs/sensorship/pkg/template"
	"github.com/bft-labs/sensorship/plugins/configwatcher"
	"github.com/bft-labs/sensorship/plugins/metricsserver"
)

const helpDescription = `
Forward sensor readings to an MQTT or NATS broker without losing data.

Highlights:
  - Reads HDTP frames from a serial line or an SX127x LoRa modem, or JSON lines from a text file.
  - Renders every reading through a JSON template before publishing.
  - Buffers to SQLite while the broker is unreachable and replays in order once it is back.
  - Configure via file, env (SENSORSHIP_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  sensorship --config /etc/sensorship/config.toml
  sensorship --server tcp://broker:1883 --pub-topic sensors/data --if-name /dev/ttyUSB0 \
    --db-path /var/lib/sensorship --template '{"temp": <{ t }>, "ts": <# TS #>}'
  sensorship check-template --config /etc/sensorship/config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// bootLogger is used until the configured sink exists.
func bootLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// loadConfig applies file, environment and flag settings in that order of
// increasing precedence and validates the result. It returns the file used.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) (string, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return "", err
		}
	} else if cfgPath != "" {
		return "", fmt.Errorf("config file %s not found", cfgPath)
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	return cfgFile, nil
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	boot := bootLogger()

	root := &cobra.Command{
		Use:           "sensorship",
		Short:         "Forward sensor readings to an MQTT or NATS broker",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := loadConfig(cmd, &cfg, cfgPath)
			if err != nil {
				return err
			}

			logger, closer, err := log.NewSink(cfg.Sink())
			if err != nil {
				return fmt.Errorf("log sink: %w", err)
			}
			defer closer.Close()

			// Log configuration (masking the broker password)
			logCfg := cfg.Gateway
			if logCfg.Password != "" {
				logCfg.Password = "*****"
			}
			zl := logger.Logger()
			zl.Info().
				Str("config_file", cfgFile).
				Interface("config", logCfg).
				Msg("configuration")

			opts := []gateway.Option{
				gateway.WithLogger(logger),
				gateway.WithConfigPath(cfgFile),
				configwatcher.WithDefaultConfigWatcher(),
			}
			if cfg.Metrics.Enabled {
				mc := metricsserver.DefaultConfig()
				mc.Addr = cfg.Metrics.Addr
				opts = append(opts, metricsserver.WithMetricsServer(mc))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = sensorship.Run(ctx, cfg.Gateway, opts...)
			switch {
			case errors.Is(err, sensorship.ErrCrashed):
				logger.Error("gateway crashed")
				return err
			case errors.Is(err, gateway.ErrShutdownTimeout):
				logger.Error("shutdown timed out, unsent data may remain in memory")
				return err
			case err != nil:
				return err
			}
			logger.Info("gateway stopped")
			return nil
		},
	}

	// Flags
	f := root.Flags()
	g := &cfg.Gateway
	f.StringVarP(&cfgPath, "config", "c", "", "path to config file (default: $HOME/.sensorship/config.toml)")

	f.StringVar(&cfg.Log.FilePath, "log-file", cfg.Log.FilePath, "rolling log file (empty: console only)")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: error, warn, info, debug, trace")
	f.IntVar(&cfg.Log.MaxSizeMB, "log-max-size", cfg.Log.MaxSizeMB, "log file size in MB before rotation")
	f.IntVar(&cfg.Log.MaxBackups, "log-max-backups", cfg.Log.MaxBackups, "rotated log files to keep")
	f.BoolVar(&cfg.Log.Quiet, "quiet", cfg.Log.Quiet, "disable console logging")

	var broker string
	f.StringVar(&broker, "broker", string(g.Broker), "broker kind: mqtt or nats")
	f.StringVar(&g.ServerURL, "server", g.ServerURL, "broker address, e.g. tcp://localhost:1883 or nats://localhost:4222")
	f.StringVar(&g.ClientID, "client-id", g.ClientID, "client ID (default: derived from /etc/machine-id)")
	f.StringVar(&g.Username, "username", g.Username, "broker username")
	f.StringVar(&g.Password, "password", g.Password, "broker password")
	f.DurationVar(&g.KeepAlive, "keep-alive", g.KeepAlive, "MQTT keep-alive interval")
	f.BoolVar(&g.CleanSession, "clean-session", g.CleanSession, "start a clean MQTT session")
	f.StringVar(&g.CAFile, "cafile", g.CAFile, "CA certificate PEM for TLS")
	f.StringVar(&g.CertFile, "cert-file", g.CertFile, "client certificate PEM for TLS")
	f.StringVar(&g.KeyFile, "key-file", g.KeyFile, "client key PEM for TLS")

	f.StringVar(&g.PubTopic, "pub-topic", g.PubTopic, "topic readings are published to")
	f.StringVar(&g.SubTopic, "sub-topic", g.SubTopic, "topic to subscribe to (optional)")
	f.StringVar(&g.LogTopic, "log-topic", g.LogTopic, "topic for publish status lines (optional)")
	f.IntVar(&g.QoS, "qos", g.QoS, "MQTT quality of service: 0, 1 or 2")

	f.StringVar(&g.Template, "template", g.Template, "message template")
	f.StringVar(&g.Example, "example", g.Example, "example reading the template must render")

	f.StringVar(&g.DatabaseDir, "db-path", g.DatabaseDir, "directory of the store-and-forward database")
	f.StringVar(&g.DatabaseName, "db-name", g.DatabaseName, "store-and-forward database file name")

	var iface string
	f.StringVar(&iface, "if-type", string(g.Interface), "sensor interface: serial_port, text_file or lora")
	f.StringVar(&g.Device, "if-name", g.Device, "serial device or text file path")
	f.IntVar(&g.BaudRate, "baud-rate", g.BaudRate, "serial baud rate")
	f.DurationVar(&g.PollInterval, "poll-interval", g.PollInterval, "text file poll interval")

	f.StringVar(&g.LoRa.SPIPort, "lora-spi", g.LoRa.SPIPort, "SPI port of the LoRa modem (default: first available)")
	f.StringVar(&g.LoRa.ResetPin, "lora-reset-pin", g.LoRa.ResetPin, "GPIO wired to the modem reset line (optional)")
	f.Int64Var(&g.LoRa.FrequencyHz, "lora-frequency", g.LoRa.FrequencyHz, "LoRa carrier frequency in Hz")
	f.IntVar(&g.LoRa.SpreadingFactor, "lora-sf", g.LoRa.SpreadingFactor, "LoRa spreading factor (6-12)")
	f.Uint8Var(&g.LoRa.SyncWord, "lora-sync-word", g.LoRa.SyncWord, "LoRa sync word")

	f.DurationVar(&g.ReplayDelay, "replay-delay", g.ReplayDelay, "pause between replayed messages")
	f.DurationVar(&g.PublishTimeout, "publish-timeout", g.PublishTimeout, "broker acknowledgement timeout")
	f.IntVar(&g.InputCapacity, "input-capacity", g.InputCapacity, "readings buffered ahead of the data manager")

	f.BoolVar(&cfg.Metrics.Enabled, "metrics", cfg.Metrics.Enabled, "serve Prometheus metrics and /healthz")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "metrics listen address")

	root.PreRun = func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("broker") {
			g.Broker = gateway.BrokerKind(broker)
		}
		if cmd.Flags().Changed("if-type") {
			g.Interface = gateway.InterfaceKind(iface)
		}
	}

	root.AddCommand(newVersionCmd(), newCheckTemplateCmd())

	if err := root.Execute(); err != nil {
		boot.Error().Err(err).Msg("sensorship")
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and the versions of the bundled modules",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sensorship %s %s/%s\n", getVersion(), runtime.GOOS, runtime.GOARCH)

			versions := gateway.ModuleVersions()
			names := make([]string, 0, len(versions))
			for name := range versions {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-10s %s\n", name, versions[name])
			}
		},
	}
}

func newCheckTemplateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check-template",
		Short: "Render the configured example reading through the message template",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}
			cfg := cliconfig.DefaultConfig()
			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, nil); err != nil {
					return err
				}
			}
			if err := cliconfig.ApplyEnvConfig(&cfg, nil); err != nil {
				return err
			}
			if cfg.Gateway.Template == "" || cfg.Gateway.Example == "" {
				return errors.New("msg.template and msg.example must both be set")
			}

			tmpl := template.New(cfg.Gateway.Template)
			msg, err := tmpl.Format(cfg.Gateway.Example)
			if err != nil {
				return fmt.Errorf("template does not render its example: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "labels: %s\n%s\n", strings.Join(tmpl.Labels(), ", "), msg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: $HOME/.sensorship/config.toml)")
	return cmd
}
