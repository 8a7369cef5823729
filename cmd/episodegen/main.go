// Package main writes a procedural episode set to YAML, with one baked
// column grid CSV per static scene next to it.
//
// Usage: go run ./cmd/episodegen -output data/episodes
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/config"
	"github.com/pthm-cable/batchsim/episode"
)

func main() {
	configPath := flag.String("config", "", "Config YAML providing generator settings (empty = use defaults)")
	collectionPath := flag.String("collection", "", "Collection YAML (empty = built-in robot)")
	outputDir := flag.String("output", "", "Output directory for the set and its column grids")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	episodes := flag.Int("episodes", 0, "Episode count (0 = generator.num_episodes)")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	opts := config.Cfg().Generator
	if *episodes > 0 {
		opts.NumEpisodes = *episodes
	}

	var col *collection.Collection
	var err error
	if *collectionPath == "" {
		col, err = collection.Default()
	} else {
		col, err = collection.Load(*collectionPath)
	}
	if err != nil {
		log.Fatalf("failed to load collection: %v", err)
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	set, err := episode.Generate(col, opts, rand.New(rand.NewSource(rngSeed)))
	if err != nil {
		log.Fatalf("failed to generate episodes: %v", err)
	}

	for i := range set.StaticScenes {
		scene := &set.StaticScenes[i]
		scene.ColumnGridFile = scene.Name + ".csv"
		if err := writeColumnGrid(filepath.Join(*outputDir, scene.ColumnGridFile), scene); err != nil {
			log.Fatalf("scene %s: %v", scene.Name, err)
		}
	}

	setPath := filepath.Join(*outputDir, "episodes.yaml")
	if err := set.Save(setPath); err != nil {
		log.Fatalf("failed to save episode set: %v", err)
	}

	fmt.Printf("Wrote %d episodes over %d scenes to %s (seed %d, spacing %g)\n",
		len(set.Episodes), len(set.StaticScenes), setPath, rngSeed, opts.ColumnGridSpacing)
}

func writeColumnGrid(path string, scene *episode.StaticScene) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := scene.ColumnGrids.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("writing column grid: %w", err)
	}
	return f.Close()
}
