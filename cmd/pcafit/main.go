package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/panel"
)

// pcafit fits a PCA model from a reference panel and writes the model JSON
// the server loads at boot.
//
//	pcafit -manifest panel.yaml -out pca_model.json
func main() {
	manifestPath := flag.String("manifest", "panel.yaml", "path to the panel manifest YAML")
	outPath := flag.String("out", "pca_model.json", "where to write the fitted model")
	components := flag.Int("k", 0, "override the manifest's component count")
	flag.Parse()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	manifest, err := panel.LoadManifest(*manifestPath)
	if err != nil {
		log.Error("Could not load panel manifest", "path", *manifestPath, "error", err)
		os.Exit(1)
	}
	if *components > 0 {
		manifest.Components = *components
	}

	model, err := panel.Fit(context.Background(), log, manifest)
	if err != nil {
		log.Error("Panel fit failed", "error", err)
		os.Exit(1)
	}

	if err := model.Save(*outPath); err != nil {
		log.Error("Could not write model", "path", *outPath, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote model %s (k=%d, %d sites, %d panel samples) to %s\n",
		model.Version, model.K, len(model.SiteKeys), len(model.Panel), *outPath)
}
