// Package commands implements the vsctl subcommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/logger"
)

var (
	configPath string
	corpusName string
	corpusFile string
	vocabName  string
	dataDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "vsctl",
	Short:         "Visual search index tool",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to config file (defaults apply when empty)")
	pf.StringVar(&corpusName, "corpus", "", "corpus name (overrides corpus.name)")
	pf.StringVar(&vocabName, "vocabulary", "", "vocabulary name (overrides corpus.vocabulary)")
	pf.StringVarP(&corpusFile, "file", "f", "", "msgpack corpus file")
	pf.StringVar(&dataDir, "data-dir", "", "use a disk artifact store in this directory")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(buildCmd, queryCmd, inspectCmd, importCmd, keysCmd)
}

// Execute runs the root command. An interrupt cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the config and applies the global flags to it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if corpusName != "" {
		cfg.Corpus.Name = corpusName
	}
	if vocabName != "" {
		cfg.Corpus.Vocabulary = vocabName
	}
	if dataDir != "" {
		cfg.Storage.Backend = "disk"
		cfg.Storage.DataDir = dataDir
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	// stdout carries command output.
	slog.SetDefault(logger.New(os.Stderr, level, "text"))
	return cfg, nil
}

func requireCorpusFile() error {
	if corpusFile == "" {
		return fmt.Errorf("corpus file is required, use -f flag")
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
