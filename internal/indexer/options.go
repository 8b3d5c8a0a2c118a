package indexer

import (
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/ann"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/forest"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/grouping"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
)

// OptionsFromConfig maps the build sections of cfg onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	hnsw := ann.DefaultOptions
	hnsw.M = cfg.Forest.M
	hnsw.EFConstruction = cfg.Forest.EFConstruction
	hnsw.EFSearch = cfg.Forest.EFSearch
	hnsw.Seed = cfg.Forest.Seed

	return Options{
		SMK: smk.Params{
			NAssign:       cfg.SMK.NAssign,
			CorpusNAssign: cfg.SMK.CorpusNAssign,
			MassignAlpha:  cfg.SMK.MassignAlpha,
			MassignSigma:  cfg.SMK.MassignSigma,
			Aggregate:     cfg.SMK.Aggregate,
			Alpha:         cfg.SMK.Alpha,
			Thresh:        cfg.SMK.Thresh,
			IDF:           smk.IDFMeasure(cfg.SMK.IDFMeasure),
			ExactAssign:   cfg.SMK.ExactAssign,
			Workers:       cfg.Build.Workers,
		},
		Forest: forest.Options{
			NumForests: cfg.Forest.NumForests,
			Exhaustive: cfg.Forest.Exhaustive,
			HNSW:       hnsw,
			Knorm:      cfg.Forest.Knorm,
			Workers:    cfg.Build.Workers,
		},
		GroupUnlabeled: cfg.Corpus.GroupUnlabeled,
		Grouping: grouping.Options{
			Algorithm:     grouping.Algorithm(cfg.Grouping.Algorithm),
			SecondsThresh: cfg.Grouping.SecondsThresh,
			Quantile:      cfg.Grouping.Quantile,
			MinPerGroup:   cfg.Grouping.MinPerGroup,
		},
		Timeout: cfg.Build.Timeout,
	}
}
