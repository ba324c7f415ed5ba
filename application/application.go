package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/message"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/router"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
	zlog "github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
	zviper "github.com/lk2023060901/danmu-garden-serde/pkg/util/viper"
)

const defaultConfigPath = "./config.yaml"

// Application is the runtime container of a serde process.
// It owns configuration, logging, metrics and the type registry.
type Application struct {
	cfg      *zviper.Config
	conf     Config
	loggers  map[string]*zlog.MLogger
	registry *serde.Registry
	zstd     *compressor.ZstdCompressor

	undoMaxProcs func()
}

// New creates a new Application instance.
func New() *Application {
	return &Application{}
}

// Run initializes the application.
// It parses command-line arguments (os.Args) and loads configuration file
// using the following priority:
//  1. Default: ./config.yaml (optional)
//  2. Env: SERDE_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
//
// Every key may be overridden by SERDE_<SECTION>_<KEY> env vars.
func (a *Application) Run() error {
	return a.RunWithArgs(os.Args[1:])
}

// RunWithArgs is Run with explicit command-line arguments.
func (a *Application) RunWithArgs(args []string) error {
	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if err := cfg.Unmarshal(&a.conf); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if err := a.initLogging(); err != nil {
		return err
	}

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		zlog.Info(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		zlog.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	a.undoMaxProcs = undo

	if a.conf.Serde.Metrics {
		metrics.Register(prometheus.DefaultRegisterer)
	}

	a.registry = serde.NewRegistry(
		serde.WithLogger(a.Logger("serde")),
		serde.WithMetrics(a.conf.Serde.Metrics),
	)
	if err := message.Register(a.registry); err != nil {
		return fmt.Errorf("register message types: %w", err)
	}
	zlog.Info("application started",
		zap.Stringer("logLevel", zlog.Level().Level()),
		zap.Bool("metrics", a.conf.Serde.Metrics),
		zap.Bool("compression", a.conf.Codec.Compression),
		zap.String("protocolVersion", a.conf.Codec.ProtocolVersion))
	return nil
}

// Close releases process-level resources acquired by Run.
func (a *Application) Close() {
	if a.zstd != nil {
		a.zstd.Close()
		a.zstd = nil
	}
	if a.undoMaxProcs != nil {
		a.undoMaxProcs()
		a.undoMaxProcs = nil
	}
	_ = zlog.Sync()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Settings returns the typed configuration.
func (a *Application) Settings() Config {
	return a.conf
}

// Registry returns the process registry, nil before Run.
func (a *Application) Registry() *serde.Registry {
	return a.registry
}

// MapStructs registers the given mappings into the process registry.
// With serde.strict-registration enabled a configuration error panics.
func (a *Application) MapStructs(builders ...*serde.MappingBuilder) error {
	err := a.registry.MapStructs(builders...)
	if err != nil && a.conf.Serde.StrictRegistration && merr.IsConfigurationErr(err) {
		panic(err)
	}
	return err
}

// NewCodec builds a codec over the process registry from the codec section.
func (a *Application) NewCodec() (codec.Codec, error) {
	ser, err := serializer.New(a.conf.Codec.Serializer, a.registry)
	if err != nil {
		return nil, err
	}
	opts := codec.Options{
		Framer:            framer.NewLengthPrefixedFramer(a.registry, a.conf.Codec.MaxFrameSize),
		Serializer:        ser,
		EnableCompression: a.conf.Codec.Compression,
		MinCompressSize:   a.conf.Codec.MinCompressSize,
		ProtocolVersion:   a.conf.Codec.ProtocolVersion,
	}
	if a.conf.Codec.Compression {
		if a.zstd == nil {
			z, err := compressor.NewZstdCompressor()
			if err != nil {
				return nil, fmt.Errorf("create zstd compressor: %w", err)
			}
			a.zstd = z
		}
		opts.Compressor = a.zstd
	}
	return codec.New(opts)
}

// NewRouter builds a router over c from the router section.
func (a *Application) NewRouter(c codec.Codec) router.Router {
	opts := []router.Option{router.WithLogger(a.Logger("router"))}
	if n := a.conf.Router.AsyncPoolSize; n > 0 {
		opts = append(opts, router.WithPool(conc.NewPool[struct{}](n)))
	}
	return router.New(c, opts...)
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.With(zap.String("module", name))
}

// loadConfig resolves config file path and loads it via viper wrapper.
// A missing default file is tolerated, an explicit path must be readable.
func (a *Application) loadConfig(args []string) (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv("SERDE_CONFIG_FILE_PATH"); envPath != "" {
		configPath = envPath
		explicit = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
	}

	cfg := zviper.New()
	setDefaults(cfg)
	cfg.BindEnv(envPrefix)

	if !explicit {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return cfg, nil
		}
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", configPath, err)
	}
	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv configures the process-wide logger based on SERDE_LOG_* env vars.
//
//   - SERDE_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - SERDE_LOG_LEVEL: log level (default "info").
//   - SERDE_LOG_STDOUT: whether to log to stdout (default false).
//   - SERDE_LOG_FILE_DIR: log directory.
//   - SERDE_LOG_FILE: log file name (empty means no file).
//   - SERDE_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("SERDE_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:               getenvDefault("SERDE_LOG_LEVEL", "info"),
		Format:              getenvDefault("SERDE_LOG_FORMAT", "text"),
		Stdout:              getenvBool("SERDE_LOG_STDOUT", false),
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("SERDE_LOG_FILE_DIR", ""),
			Filename: getenvDefault("SERDE_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from config under "logging" key.
//
// Example:
//
//	logging:
//	  serde:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: serde.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		logger, _, err := zlog.InitLogger(&lc)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zap.String("module", name))}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
