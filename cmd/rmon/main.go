package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/radio-monitor/internal/config"
	"github.com/franz/radio-monitor/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "rmon",
		Short: "Radio Monitor - track what radio stations play",
		Long: `rmon (Radio Monitor) scrapes the now-playing lists of radio stations,
resolves every artist against MusicBrainz and keeps a local play history.

From that history it can onboard frequently played artists into Lidarr,
maintain playlists on a Plex server and send notifications about what it
is doing.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	logCloser io.Closer
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/radio_monitor.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database file (overrides monitor.database_file)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("monitor.database_file", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	config.Setup(viper.GetViper(), cfgFile)

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

// loadConfig decodes the settings and switches logging over to them. It is
// called once per command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	closer, err := util.ConfigureLogging(cfg.LogConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	logCloser = closer

	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
	return cfg, nil
}

func main() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
