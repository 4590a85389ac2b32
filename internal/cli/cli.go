package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"odcache.click/internal/codec"
	"odcache.click/internal/config"
	"odcache.click/internal/fs"
	"odcache.click/internal/importer"
	"odcache.click/internal/ondemand"
	"odcache.click/internal/tracking"
)

const Version = "0.4.0"

// CLI represents the command-line interface
type CLI struct {
	rootCmd          *cobra.Command
	fs               afero.Fs
	configManager    *config.ConfigManager
	registry         *codec.Registry
	terminalDetector TerminalDetector
	cfg              *config.Config
	trackingDB       *sql.DB // nil when tracking is disabled or unavailable
	sessionID        string
}

// NewCLI creates a CLI working on the OS filesystem
func NewCLI() *CLI {
	return NewCLIWithFilesystem(fs.NewDefaultFactory().Production())
}

// NewCLIWithFilesystem creates a CLI that reads audio and config files and
// writes exports through fs
func NewCLIWithFilesystem(fs afero.Fs) *CLI {
	slog.Debug("creating new CLI instance")

	rootCmd := &cobra.Command{
		Use:   "odcache",
		Short: "On-demand audio decoder",
		Long: "odcache decodes compressed audio lazily into a bounded sample cache, " +
			"serving arbitrary sample windows of any channel.",
		SilenceUsage:      true,
		PersistentPreRunE: preRunE,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handled := handleVersionFlag(cmd); handled {
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newDecodeCommand())
	rootCmd.AddCommand(newBlocksCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newConfigCommand())

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int64("cache-samples", 0, "Sample cache capacity")
	rootCmd.PersistentFlags().Bool("seek-probe", false, "Probe the file for seek support")
	rootCmd.PersistentFlags().Bool("no-tracking", false, "Do not record decode events")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return &CLI{
		rootCmd:          rootCmd,
		fs:               fs,
		configManager:    config.NewConfigManagerWithFilesystem(fs),
		registry:         codec.NewDefaultRegistry(),
		terminalDetector: &DefaultTerminalDetector{},
		sessionID:        fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()),
	}
}

type cliKey struct{}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(cli *CLI) context.Context {
	return context.WithValue(context.Background(), cliKey{}, cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) (*CLI, error) {
	if cli, ok := ctx.Value(cliKey{}).(*CLI); ok {
		return cli, nil
	}
	slog.Error("CLI instance not found in context")
	return nil, fmt.Errorf("CLI instance not found in context")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "odcache version %s\nOn-demand audio decode and cache engine\n", Version)
}

// handleVersionFlag prints the version when --version is set
func handleVersionFlag(cmd *cobra.Command) bool {
	version, _ := cmd.Flags().GetBool("version")
	if version {
		printVersion(cmd.OutOrStdout())
	}
	return version
}

// preRunE loads the configuration and sets up logging and tracking before
// any command runs
func preRunE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	cli.cfg = cfg

	setupLogging(cli.configManager, cfg, cmd.ErrOrStderr())
	cli.initializeTracking()
	return nil
}

// loadAndValidateConfig loads configuration from flags and files, applies overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	override, err := flagOverrides(cmd, cfg)
	if err != nil {
		return nil, err
	}
	cfg = cli.configManager.MergeConfigs(cfg, override)

	if err := cli.configManager.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// flagOverrides collects the persistent flags that were set into a config
// to merge over the loaded one
func flagOverrides(cmd *cobra.Command, cfg *config.Config) (*config.Config, error) {
	flags := cmd.Flags()
	override := &config.Config{}

	if flags.Changed("log-level") {
		override.LogLevel, _ = flags.GetString("log-level")
		slog.Debug("log level override applied", "value", override.LogLevel)
	}

	var decode config.DecodeConfig
	if flags.Changed("cache-samples") {
		decode.CacheSamples, _ = flags.GetInt64("cache-samples")
		if decode.CacheSamples <= 0 {
			return nil, fmt.Errorf("invalid configuration: --cache-samples must be > 0, got %d", decode.CacheSamples)
		}
		slog.Debug("cache size override applied", "value", decode.CacheSamples)
	}
	decode.SeekProbe, _ = flags.GetBool("seek-probe")
	if decode != (config.DecodeConfig{}) {
		override.Decode = &decode
	}

	if off, _ := flags.GetBool("no-tracking"); off {
		tracking := config.TrackingConfig{}
		if cfg.Tracking != nil {
			tracking = *cfg.Tracking
		}
		tracking.Enabled = false
		override.Tracking = &tracking
	}
	return override, nil
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	// answer --version before loading config or opening the database
	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		printVersion(stdout)
		return 0
	}

	defer func() {
		if c.trackingDB != nil {
			if err := c.trackingDB.Close(); err != nil {
				slog.Error("error closing tracking database", "error", err)
			}
			c.trackingDB = nil
		}
	}()

	c.rootCmd.SetArgs(args[1:])
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)
	c.rootCmd.SetContext(contextWithCLI(c))

	if err := c.rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}

// setupLogging sends records at the configured level to stderr and, when
// file logging is enabled, every record down to debug to a rotated file
func setupLogging(cm *config.ConfigManager, cfg *config.Config, stderrWriter io.Writer) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderrWriter, &slog.HandlerOptions{Level: level}),
	}

	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		logFilePath := cm.ResolveLogFilePath(cfg.FileLogging.Filename)

		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			slog.Error("failed to create log directory", "path", logDir, "error", err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    cfg.FileLogging.MaxSizeMB,
				MaxBackups: cfg.FileLogging.MaxBackups,
				MaxAge:     cfg.FileLogging.MaxAgeDays,
				Compress:   cfg.FileLogging.Compress,
			}
			handlers = append(handlers, slog.NewTextHandler(fileWriter, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}))
		}
	}

	slog.SetDefault(slog.New(NewMultiLevelHandler(handlers...)))

	slog.Debug("logging setup completed",
		"level", level.String(),
		"handlers", len(handlers),
		"file_enabled", len(handlers) > 1)
}

// initializeTracking opens the tracking database if enabled in configuration.
// Failures leave tracking off.
func (c *CLI) initializeTracking() {
	if c.trackingDB != nil {
		return
	}

	if c.cfg == nil || c.cfg.Tracking == nil || !c.cfg.Tracking.Enabled {
		slog.Debug("decode tracking disabled, skipping database initialization")
		return
	}

	dbPath, err := c.configManager.ResolveTrackingDatabasePath(c.cfg.Tracking.DatabasePath)
	if err != nil {
		slog.Error("failed to get database path, continuing without tracking", "error", err)
		return
	}

	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		slog.Error("failed to initialize tracking database, continuing without tracking",
			"path", dbPath, "error", err)
		return
	}

	c.trackingDB = db
	slog.Debug("tracking database initialized", "path", dbPath, "session_id", c.sessionID)
}

// openDecoder imports path and creates its decoder with the configured
// options and hooks. Closing the decoder releases everything.
func (c *CLI) openDecoder(path string) (*ondemand.Decoder, error) {
	im, err := importer.Open(c.fs, c.registry, path)
	if err != nil {
		return nil, err
	}
	defer im.Close()

	opts := c.cfg.Decode.Options()
	opts = append(opts, ondemand.WithHook(tracking.NewSlogHook(nil).Hook()))

	if c.trackingDB != nil {
		dbHook := tracking.NewDBHook(c.trackingDB, c.sessionID)
		if err := dbHook.Describe(im.Name, im.Info()); err != nil {
			slog.Warn("failed to record stream, continuing", "path", path, "error", err)
		}
		opts = append(opts, ondemand.WithHook(dbHook.Hook()))
	}

	return im.NewDecoder(opts...)
}
