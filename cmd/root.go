package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teemow/mailminder/internal/config"
	"github.com/teemow/mailminder/internal/logging"
)

// v holds the merged flag, environment and config file settings.
var v = viper.New()

var cfgFile string

// rootCmd represents the base command for the mailminder application
var rootCmd = &cobra.Command{
	Use:   "mailminder",
	Short: "Collects the mail your tracked senders send you",
	Long: `mailminder signs you in with Google, lets you track a list of senders and
copies their messages from Gmail into a database, skipping anything it has
already stored.

Settings come from flags, MAILMINDER_* environment variables or a config.yaml
in the working directory or $HOME/.config/mailminder.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		return setupLogging(cmd)
	},
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(ver string) {
	version = ver
	rootCmd.Version = ver
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailminder version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(v)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or $HOME/.config/mailminder/config.yaml)")
	flags.String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, "text", "log format: text or json")
	flags.String(config.KeyDatabaseDriver, config.DriverSQLite, "database driver: sqlite or pgx")
	flags.String(config.KeyDatabaseDSN, "mailminder.db", "database DSN or SQLite file path")
	bindFlags(flags, config.KeyLogLevel, config.KeyLogFormat, config.KeyDatabaseDriver, config.KeyDatabaseDSN)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// bindFlags binds each named flag to the viper key of the same name.
func bindFlags(flags *pflag.FlagSet, keys ...string) {
	for _, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", key, err))
		}
	}
}

// initConfig reads the config file, if any, and enables MAILMINDER_* overrides.
func initConfig() error {
	config.ConfigureEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "mailminder"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func setupLogging(cmd *cobra.Command) error {
	logger, err := logging.New(cmd.ErrOrStderr(), v.GetString(config.KeyLogLevel), v.GetString(config.KeyLogFormat))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", "path", used)
	}
	return nil
}

// loadConfig returns the validated configuration. serve additionally checks
// the settings only the HTTP server needs.
func loadConfig(forServe bool) (config.Config, error) {
	cfg := config.Load(v)
	validate := cfg.Validate
	if forServe {
		validate = cfg.ValidateServe
	}
	if err := validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}
