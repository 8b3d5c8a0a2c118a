package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a corpus index",
	Long: `Build the SMK inverted index and the sharded multi-index of a corpus
file and store them, with a manifest, in the artifact store. Artifacts
already stored for the same documents, vocabulary and parameters are
reused.

Examples:
  vsctl build -f zebra.vsc --corpus zebra --data-dir ./artifacts
  vsctl build -f zebra.vsc --config configs/development.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCorpusFile(); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		mem, err := store.ReadFile(corpusFile)
		if err != nil {
			return err
		}
		v, err := mem.Vocabulary(ctx, cfg.Corpus.Vocabulary)
		if err != nil {
			return err
		}
		cache, err := artifact.OpenCache(ctx, *cfg, nil)
		if err != nil {
			return err
		}
		engine, err := indexer.NewEngine(cfg.Corpus.Name, mem, cache, v,
			resource.NewBudget(cfg.Build.MemoryLimitBytes, 1), indexer.OptionsFromConfig(cfg))
		if err != nil {
			return err
		}
		ix, err := engine.Build(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"build_id":    ix.BuildID,
			"corpus":      ix.Corpus,
			"fingerprint": ix.Fingerprint.String(),
			"keys":        ix.Keys,
			"stats":       ix.SMK.Stats(),
			"shards":      ix.Forest.Stats(),
			"cache_hit":   ix.CacheHit,
			"duration":    ix.Duration.Round(time.Millisecond).String(),
		})
	},
}
