// Command objclass-train trains a classifier ensemble from a feature table
// and the labels stored in a project database, then writes the trained
// ensemble (and any bad-object warning) back to the database.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/banshee-data/objectclass/internal/classify"
	"github.com/banshee-data/objectclass/internal/config"
	"github.com/banshee-data/objectclass/internal/forest"
	"github.com/banshee-data/objectclass/internal/graph"
	"github.com/banshee-data/objectclass/internal/store"
)

// staticFeatures serves a feature table parsed from a JSON file.
type staticFeatures map[int]classify.FeatureSet

func (s staticFeatures) Features(times []int) (map[int]classify.FeatureSet, error) {
	out := make(map[int]classify.FeatureSet, len(times))
	for _, t := range times {
		fs, ok := s[t]
		if !ok {
			return nil, fmt.Errorf("no features for time step %d", t)
		}
		out[t] = fs
	}
	return out, nil
}

func loadFeatures(path string) (staticFeatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features file: %w", err)
	}
	var raw map[string]classify.FeatureSet
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse features file: %w", err)
	}
	out := make(staticFeatures, len(raw))
	for key, fs := range raw {
		t, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("bad time step key %q in features file", key)
		}
		out[t] = fs
	}
	return out, nil
}

// selectAll builds a selection covering every feature in the table except the
// reserved default-features group.
func selectAll(feats staticFeatures) classify.FeatureSelection {
	sel := classify.FeatureSelection{}
	for _, fs := range feats {
		for plugin, group := range fs {
			if plugin == classify.DefaultFeaturesKey {
				continue
			}
			if sel[plugin] == nil {
				sel[plugin] = map[string]bool{}
			}
			for feature := range group {
				sel[plugin][feature] = true
			}
		}
	}
	return sel
}

func main() {
	var dbPath string
	var configPath string
	var featuresPath string
	var laneID string

	flag.StringVar(&dbPath, "db", "objectclass.db", "path to project database")
	flag.StringVar(&configPath, "config", "", "optional classifier config JSON")
	flag.StringVar(&featuresPath, "features", "", "feature table JSON (time step -> plugin -> feature -> rows)")
	flag.StringVar(&laneID, "lane", "", "lane id whose labels to train on")
	flag.Parse()

	if featuresPath == "" {
		log.Fatalf("features file must be provided")
	}
	if laneID == "" {
		log.Fatalf("lane id must be provided")
	}

	cfg := config.EmptyClassifierConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadClassifierConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	feats, err := loadFeatures(featuresPath)
	if err != nil {
		log.Fatalf("load features: %v", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	labels, err := st.LoadLabels(laneID)
	if err != nil {
		log.Fatalf("load labels: %v", err)
	}
	if len(labels) == 0 {
		log.Fatalf("no labels stored for lane %s", laneID)
	}

	learner := forest.NewLearner(forest.Config{
		Trees:      cfg.GetTreeCount(),
		MaxDepth:   cfg.GetMaxDepth(),
		MinSamples: cfg.GetMinSamples(),
		Seed:       cfg.GetSeed(),
	})
	pool := graph.NewPool(cfg.GetPoolWorkers())
	defer pool.Close()

	trainer := classify.NewTrainer(learner, cfg.GetForestCount(), pool)
	result, err := trainer.Train(
		[]classify.LaneData{{Labels: labels, Features: feats}},
		selectAll(feats),
	)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	if result.Ensemble == nil {
		log.Fatalf("nothing to train: no labelled objects in lane %s", laneID)
	}

	if err := st.SaveEnsemble(result.Ensemble, result.OutOfBag); err != nil {
		log.Fatalf("save ensemble: %v", err)
	}
	warning, err := classify.FormatWarning(result.Report)
	if err != nil {
		log.Fatalf("format warning: %v", err)
	}
	if err := st.SaveWarning(warning); err != nil {
		log.Fatalf("save warning: %v", err)
	}

	fmt.Printf("trained %d ensemble member(s), out-of-bag error %.4f\n",
		len(result.Ensemble), result.OutOfBag)
	if !warning.Empty() {
		fmt.Printf("%s: %s\n%s\n", warning.Title, warning.Text, warning.Details)
	}
}
