package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/postgres"
)

var importNotify bool

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy a corpus file into Postgres",
	Long: `Write the vocabularies and documents of a corpus file into the Postgres
descriptor store, replacing documents with the same ids. With --notify a
corpus-changed event is published so that running indexers rebuild.

Examples:
  vsctl import -f zebra.vsc --config configs/development.yaml --notify`,
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
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		n, err := mem.CopyTo(ctx, store.NewPostgres(db))
		if err != nil {
			return fmt.Errorf("imported %d documents before failing: %w", n, err)
		}
		slog.Info("corpus imported", "documents", n, "file", corpusFile)

		if !importNotify {
			return printJSON(cmd, map[string]any{"documents": n})
		}
		ids, err := mem.DocumentIDs(ctx, cfg.Corpus.Name)
		if err != nil {
			return err
		}
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusChanged)
		defer producer.Close()
		event := kafka.CorpusChanged{
			Corpus:      cfg.Corpus.Name,
			DocumentIDs: ids,
			Reason:      "import",
			ChangedAt:   time.Now().UTC(),
		}
		if err := producer.Publish(ctx, event.Corpus, event); err != nil {
			return fmt.Errorf("announcing import: %w", err)
		}
		return printJSON(cmd, map[string]any{"documents": n, "notified": cfg.Kafka.Topics.CorpusChanged})
	},
}

func init() {
	importCmd.Flags().BoolVar(&importNotify, "notify", false, "publish a corpus-changed event")
}
