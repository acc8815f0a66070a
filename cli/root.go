package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/log"
)

const defaultEnvFile = ".env"

// App carries the chain and the encoders registered by the program.
type App struct {
	registry *chain.Registry
	codecs   *codec.Registry
	v        *viper.Viper

	cfgFile      string
	defaultsFile string
	envFile      string
}

func NewApp(registry *chain.Registry, codecs *codec.Registry) *App {
	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	return &App{registry: registry, codecs: codecs, v: viper.New()}
}

// loadDefaults reads the .env file and the ~/.bert defaults file, both optional
// unless set explicitly.
func (a *App) loadDefaults() error {
	envFile := a.envFile
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if a.envFile != "" || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if a.defaultsFile == "" {
		a.v.SetConfigName(".bert")
		a.v.SetConfigType("toml")
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		a.v.AddConfigPath(home)
	} else {
		a.v.SetConfigFile(a.defaultsFile)
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.defaultsFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to load defaults: %w", err)
		}
	}
	return nil
}

// loadConfig reads the process config, the --config flag wins over the
// "config" key of the defaults file.
func (a *App) loadConfig() (*config.Config, error) {
	path := a.cfgFile
	if path == "" {
		path = a.v.GetString("config")
	}
	conf, err := config.MustLoad(path)
	if err != nil {
		return nil, err
	}
	if a.v.IsSet("log_dir") {
		conf.LogDir = a.v.GetString("log_dir")
	}
	if a.v.IsSet("admin_host") {
		conf.AdminHost = a.v.GetString("admin_host")
	}
	if a.v.IsSet("admin_port") {
		conf.AdminPort = a.v.GetInt("admin_port")
	}
	if err := log.Setup(conf.LogFormat, conf.LogDir, conf.LogLevel, conf.BacktrackLevel); err != nil {
		return nil, err
	}
	return conf, nil
}

func (a *App) Command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bert",
		Short:         "run and inspect a chain of jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadDefaults()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&a.defaultsFile, "defaults", "", "defaults file path, ~/.bert by default")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file path, .env by default")

	rootCmd.AddCommand(
		a.runCommand(),
		a.chainCommand(),
		a.sizeCommand(),
		a.stalledCommand(),
		a.cacheCommand(),
	)
	return rootCmd
}

// Execute runs the command line against the chain and exits non-zero on failure.
func Execute(registry *chain.Registry, codecs *codec.Registry) {
	if err := NewApp(registry, codecs).Command().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %s\n", err)
		os.Exit(1)
	}
}
