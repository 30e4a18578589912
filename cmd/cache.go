package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/cache"
)

// cacheCmd is for inspecting the BLAST result cache
var cacheCmd = &cobra.Command{
	Use:                        "cache",
	Short:                      "Inspect the BLAST result cache",
	SuggestionsMinimumDistance: 2,
}

// cacheStatsCmd logs the number of stored results
var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the backend and number of stored results",
	RunE:  runCacheStats,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	RootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	// the cache doesn't need the BLAST settings
	conf, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	store, err := cache.Open(conf.Cache)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Len(cmd.Context())
	if err != nil {
		return err
	}

	location := conf.Cache.Path
	if conf.Cache.Backend == "redis" {
		location = conf.Cache.RedisAddr
	}
	fmt.Printf("backend:  %s (%s)\nentries:  %d\n", conf.Cache.Backend, location, n)
	return nil
}
