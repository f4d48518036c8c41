// Package servecmder provides the serve command that runs the gateway.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/lumos/pkg/config"
	"github.com/papercomputeco/lumos/pkg/eventstream"
	"github.com/papercomputeco/lumos/pkg/eventstream/kafka"
	"github.com/papercomputeco/lumos/pkg/logger"
	"github.com/papercomputeco/lumos/pkg/provider"
	"github.com/papercomputeco/lumos/proxy"
)

type serveCommander struct {
	host            string
	port            uint
	keysFile        string
	watch           bool
	upstreamTimeout time.Duration
	kafkaBrokers    []string
	kafkaTopic      string
	logJSON         bool
	logFile         string

	cfg    *config.Config
	logger *slog.Logger
}

// serveFlags are the registry keys bound to viper for this command.
var serveFlags = []string{
	config.FlagHost,
	config.FlagPort,
	config.FlagKeysFile,
	config.FlagWatch,
	config.FlagUpstreamTimeout,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
	config.FlagLogJSON,
	config.FlagLogFile,
}

const serveLongDesc string = `Run the lumos gateway.

The gateway listens with the Ollama API and forwards every chat or generate
request to the provider configured for the requested model in the keys file.
Requests that name no model use the default model, given as the first
argument or as models.default in the settings file.

The keys file holds one TOML table per model:

  [deepseek-chat]
  provider = "deepseek"
  api_key  = "sk-..."
  url      = "https://api.deepseek.com/chat/completions"

Set --kafka-brokers to publish a completion event for every stream.`

const serveShortDesc string = "Run the lumos gateway"

func NewServeCmd() *cobra.Command {
	cmd, _ := newServeCmd()
	return cmd
}

func newServeCmd() (*cobra.Command, *serveCommander) {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve [model]",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return cmder.loadConfig(cmd, args)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return cmder.run(ctx)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagHost, &cmder.host)
	config.AddUintFlag(cmd, config.Flags, config.FlagPort, &cmder.port)
	config.AddStringFlag(cmd, config.Flags, config.FlagKeysFile, &cmder.keysFile)
	config.AddBoolFlag(cmd, config.Flags, config.FlagWatch, &cmder.watch)
	config.AddDurationFlag(cmd, config.Flags, config.FlagUpstreamTimeout, &cmder.upstreamTimeout)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &cmder.kafkaTopic)
	config.AddBoolFlag(cmd, config.Flags, config.FlagLogJSON, &cmder.logJSON)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFile, &cmder.logFile)

	return cmd, cmder
}

// loadConfig resolves settings through the viper precedence chain. The
// positional model wins over models.default.
func (c *serveCommander) loadConfig(cmd *cobra.Command, args []string) error {
	settings, _ := cmd.Flags().GetString("settings")

	v, err := config.InitViper(settings)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

	if f := cmd.Flags().Lookup("debug"); f != nil {
		_ = v.BindPFlag("log.debug", f)
	}
	if len(args) == 1 {
		v.Set("models.default", args[0])
	}

	c.cfg, err = config.Load(v)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if c.cfg.Models.Default == "" {
		return errors.New("no default model: pass one as the first argument or set models.default")
	}

	return nil
}

func (c *serveCommander) run(ctx context.Context) error {
	var closeLog func() error
	var err error
	c.logger, closeLog, err = newLogger(c.cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	registry, err := c.openRegistry()
	if err != nil {
		return err
	}

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}

	p, err := proxy.New(proxy.Config{
		ListenAddr:      c.cfg.Server.Addr(),
		UpstreamTimeout: c.cfg.Upstream.Timeout,
		Publisher:       publisher,
		Workers:         c.cfg.Telemetry.Workers,
		QueueSize:       c.cfg.Telemetry.QueueSize,
	}, registry, c.logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.cfg.Models.Watch {
		go func() {
			if err := registry.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("keys file watcher stopped", "error", err)
			}
		}()
	}

	c.logger.Info("serving models",
		"keys_file", registry.Path(),
		"models", registry.Names(),
		"default_model", registry.Default(),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		c.logger.Info("shutting down")
		return nil
	}
}

func (c *serveCommander) openRegistry() (*provider.Registry, error) {
	keysFile := c.cfg.Models.KeysFile
	registry, err := provider.OpenRegistry(keysFile,
		provider.WithDefault(c.cfg.Models.Default),
		provider.WithLogger(c.logger),
	)
	if errors.Is(err, provider.ErrModelNotFound) {
		return nil, fmt.Errorf("model %s is not available in config file %s", c.cfg.Models.Default, keysFile)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config file %s: %w", keysFile, err)
	}
	return registry, nil
}

// newPublisher returns a kafka publisher when brokers are configured and nil
// otherwise, which makes the gateway discard telemetry.
func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	t := c.cfg.Telemetry
	if len(t.KafkaBrokers) == 0 {
		return nil, nil
	}

	pub, err := kafka.NewPublisher(kafka.Config{
		Brokers: t.KafkaBrokers,
		Topic:   t.KafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	c.logger.Info("publishing stream events",
		"brokers", t.KafkaBrokers,
		"topic", t.KafkaTopic,
	)
	return pub, nil
}

// newLogger writes colourised output to a terminal and slog text otherwise,
// or JSON when asked. A log file always receives JSON records.
func newLogger(cfg config.LogConfig) (*slog.Logger, func() error, error) {
	pretty := !cfg.JSON && term.IsTerminal(int(os.Stdout.Fd()))
	console := logger.New(
		logger.WithDebug(cfg.Debug),
		logger.WithPretty(pretty),
		logger.WithJSON(cfg.JSON),
	)

	if cfg.File == "" {
		return console, func() error { return nil }, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	file := logger.New(
		logger.WithDebug(cfg.Debug),
		logger.WithJSON(true),
		logger.WithWriter(f),
	)

	return logger.Multi(console, file), f.Close, nil
}
