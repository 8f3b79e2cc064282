package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tmykhalevych/event-tracer/internal/config"
)

// options are shared by every command of one root.
type options struct {
	cfgFile  string
	logLevel string
	noColor  bool

	v      *viper.Viper
	logger *zap.Logger
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	opts := &options{v: viper.New()}
	setTracerDefaults(opts.v)

	rootCmd := &cobra.Command{
		Use:   "evtrace",
		Short: "Kernel event tracer toolbox",
		Long: `evtrace records scheduler and user events of a real-time kernel into a
fixed trace buffer and reports how tasks shared the CPU.

The simulate command runs the tracer against a simulated round-robin kernel
and prints the delivered traces; texec reads JSON trace lines and analyzes
task execution inside capture windows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.initConfig(); err != nil {
				return err
			}
			logger, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.evtrace.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	// Add subcommands
	rootCmd.AddCommand(newSimulateCommand(opts))
	rootCmd.AddCommand(newTexecCommand(opts))
	rootCmd.AddCommand(newConfigCommand(opts))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func (o *options) initConfig() error {
	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			o.v.AddConfigPath(home)
		}
		o.v.AddConfigPath(".")
		o.v.SetConfigType("yaml")
		o.v.SetConfigName(".evtrace")
	}

	o.v.SetEnvPrefix("EVTRACE")
	o.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	o.v.AutomaticEnv()

	if err := o.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// setTracerDefaults makes every tracer key known to viper so environment
// variables such as EVTRACE_TRACER_BUFFER_SIZE are picked up.
func setTracerDefaults(v *viper.Viper) {
	d := config.DefaultTracerConfig()
	v.SetDefault("tracer.buffer_size", d.BufferSize)
	v.SetDefault("tracer.max_message_len", d.MaxMessageLen)
	v.SetDefault("tracer.message_pool_ratio", d.MessagePoolRatio)
	v.SetDefault("tracer.queue_size", d.QueueSize)
	v.SetDefault("tracer.polling_interval", d.PollingInterval)
	v.SetDefault("tracer.max_tasks", d.MaxTasks)
	v.SetDefault("tracer.report_interval", d.ReportInterval)
	v.SetDefault("tracer.metrics_enabled", d.MetricsEnabled)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logConfig := zap.NewProductionConfig()
	if lvl.Level() == zap.DebugLevel {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = lvl

	logger, err := logConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
