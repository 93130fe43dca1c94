package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "oppscan",
	Short: "Opportunity scan coordination engine",
	Long: `oppscan coordinates concurrent strategy scans over an asset universe:
scans run under a wall-clock budget with bounded concurrency, and partial or
final results stay visible to pollers across stateless workers through a
shared Redis store.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("oppscan - use 'oppscan serve' to start an API worker or 'oppscan scan' for a one-shot scan")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
