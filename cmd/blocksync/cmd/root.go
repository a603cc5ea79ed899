package cmd

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/blocksync"
)

var rootCmd = &cobra.Command{
	Use:   "blocksync",
	Short: "Replicated content-addressed block store CLI",
	Long:  "CLI for managing a local replica and syncing it with peers through an OCI registry.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/blocksync/config.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "replica directory (default: ~/.local/share/blocksync)")
	rootCmd.PersistentFlags().String("remote", "", "OCI registry ref used for sync (e.g. ttl.sh/org/repo:main)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log replica operations to stderr")

	viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("remote", rootCmd.PersistentFlags().Lookup("remote"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BLOCKSYNC")
	viper.AutomaticEnv()
	viper.SetDefault("dir", defaultDataDir())

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "blocksync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "blocksync")
	}
	return ".blocksync"
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "blocksync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "blocksync")
	}
	return ".blocksync"
}

func openReplica() (*blocksync.Replica, error) {
	opts := []blocksync.Option{}
	if viper.GetBool("verbose") {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		opts = append(opts, blocksync.WithLogger(log))
	}
	if remote := viper.GetString("remote"); remote != "" {
		opts = append(opts, blocksync.WithRemote(remote))
	}
	return blocksync.Open(viper.GetString("dir"), opts...)
}
