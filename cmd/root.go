// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/observability"
)

type contextKey string

// configKey stores the validated *config.Config on the command context.
const configKey contextKey = "config"

// NewRootCommand builds a fresh command tree. Each call has its own viper
// instance so that flags and config never leak between invocations.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "threadweaver",
		Short:         "Threadweaver posts a scripted comment thread with a pool of browser identities.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version), zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./threadweaver.yaml)")
	root.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	root.AddCommand(newRunCmd(newScheduler, NewStoreProvider()))
	root.AddCommand(newReportCmd(NewStoreProvider()))
	root.AddCommand(newLogsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command tree with ctx and logs a failure before returning it.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		logger := observability.GetLogger()
		switch {
		case errors.Is(err, context.Canceled):
			logger.Warn("Command interrupted.")
		case errors.Is(err, ErrRunFailures):
			logger.Warn("Command finished with failures.", zap.Error(err))
		default:
			logger.Error("Command execution failed.", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// initializeConfig points v at the config file and the environment.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("threadweaver")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("THREADWEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func fallbackLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{Level: "info", Format: "console", ServiceName: "threadweaver"}
}

// getConfigFromContext returns the config stored by the root pre-run hook.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in command context")
	}
	return cfg, nil
}
