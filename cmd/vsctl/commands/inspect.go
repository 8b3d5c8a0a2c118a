package commands

import (
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the latest stored build of a corpus",
	Long: `Load the manifest of a corpus and the artifacts it points at, and print
the build, its parameters and per-shard sizes.

Examples:
  vsctl inspect --data-dir ./artifacts --corpus zebra`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cache, err := artifact.OpenCache(ctx, *cfg, nil)
		if err != nil {
			return err
		}
		man, err := indexer.ReadManifest(ctx, cache, cfg.Corpus.Name)
		if err != nil {
			return err
		}
		ix, err := indexer.OpenManifest(ctx, cache, man)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"build_id":    man.BuildID,
			"corpus":      man.Corpus,
			"fingerprint": man.Fingerprint,
			"built_at":    man.BuiltAt,
			"keys":        man.Keys,
			"vocabulary":  ix.Vocabulary.ID(),
			"params":      ix.SMK.Params.String(),
			"stats":       ix.SMK.Stats(),
			"shards":      ix.Forest.Stats(),
		})
	},
}
