// Package cmd is for command line interactions with the pcrdesign application
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jjtimmons/pcrdesign/config"
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use: "pcrdesign",
	Short: `Design PCR primers that are specific to a target's homologs.
Screen targets with BLAST, pick pairs with primer3 and check them with in-silico PCR`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(viper.GetViper())

	RootCmd.PersistentFlags().StringP("settings", "s", "", "settings file (default is pcrdesign.yaml in . or $HOME/.pcrdesign)")
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug messages")

	viper.BindPFlag("settings", RootCmd.PersistentFlags().Lookup("settings"))
	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
}

// setup reads the settings file and configures the default logger
func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if settings := viper.GetString("settings"); settings != "" {
		viper.SetConfigFile(settings)
	} else {
		viper.SetConfigName("pcrdesign")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".pcrdesign"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read settings: %w", err)
		}
		slog.Debug("no settings file found, using defaults and the environment")
	} else {
		slog.Debug("read settings", "file", viper.ConfigFileUsed())
	}
	return nil
}
