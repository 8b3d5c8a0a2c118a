package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
)

var (
	queryDoc         int64
	queryDescriptors string
	queryLimit       int
	queryK           int
	queryExcludeSame bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the stored index",
	Long: `Query the latest stored build of a corpus, either with the descriptors
of an existing document (--doc, needs -f) or with descriptors read from a
JSON file holding an array of vectors (--descriptors).

Examples:
  vsctl query --data-dir ./artifacts --corpus zebra -f zebra.vsc --doc 1042
  vsctl query --data-dir ./artifacts --corpus zebra --descriptors q.json --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := executor.Request{Limit: queryLimit, K: queryK, ExcludeSameLabel: queryExcludeSame}
		switch {
		case cmd.Flags().Changed("doc") && queryDescriptors != "":
			return fmt.Errorf("--doc and --descriptors are mutually exclusive")
		case cmd.Flags().Changed("doc"):
			if err := requireCorpusFile(); err != nil {
				return err
			}
			id := smk.DocumentID(queryDoc)
			req.DocumentID = &id
		case queryDescriptors != "":
			descs, err := readDescriptors(queryDescriptors)
			if err != nil {
				return err
			}
			req.Descriptors = descs
		default:
			return fmt.Errorf("one of --doc or --descriptors is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cache, err := artifact.OpenCache(ctx, *cfg, nil)
		if err != nil {
			return err
		}
		var holder indexer.Holder
		if _, err := indexer.NewReloader(cache, cfg.Corpus.Name, &holder).Reload(ctx); err != nil {
			return err
		}
		var src store.Source
		if corpusFile != "" {
			mem, err := store.ReadFile(corpusFile)
			if err != nil {
				return err
			}
			src = mem
		}

		exec := executor.New(&holder, src, executor.Options{
			DefaultLimit:   cfg.Search.DefaultLimit,
			MaxResults:     cfg.Search.MaxResults,
			MaxDescriptors: cfg.Search.MaxDescriptors,
			K:              cfg.Forest.K,
			Timeout:        cfg.Search.Timeout,
		})
		res, err := exec.Execute(ctx, exec.Normalize(req))
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	f := queryCmd.Flags()
	f.Int64Var(&queryDoc, "doc", 0, "query with the descriptors of this document")
	f.StringVar(&queryDescriptors, "descriptors", "", "JSON file with query descriptors")
	f.IntVar(&queryLimit, "limit", 0, "maximum results (search.defaultLimit when 0)")
	f.IntVar(&queryK, "k", 0, "neighbours per descriptor (forest.k when 0)")
	f.BoolVar(&queryExcludeSame, "exclude-same-label", false, "drop documents labelled like the query document")
}

func readDescriptors(path string) ([]vocab.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptors: %w", err)
	}
	var descs []vocab.Descriptor
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("parsing descriptors %s: %w", path, err)
	}
	return descs, nil
}
