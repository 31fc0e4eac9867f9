// Package backfill re-runs enrichment for species with missing metadata.
package backfill

import (
	"github.com/spf13/cobra"

	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/datastore"
	"github.com/rion/birdsong-go/internal/ebird"
	"github.com/rion/birdsong-go/internal/enrichment"
	"github.com/rion/birdsong-go/internal/gbif"
	"github.com/rion/birdsong-go/internal/logging"
	"github.com/rion/birdsong-go/internal/wikimedia"
)

// Command returns the backfill subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-enrich species with missing metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, settings, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list incomplete species without enriching")
	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, dryRun bool) error {
	slogger := logging.ForService("backfill")
	gbif.SetLogger(logging.ForService("gbif"))
	wikimedia.SetLogger(logging.ForService("wikimedia"))
	ebird.SetLogger(logging.ForService("ebird"))

	store, err := datastore.New(settings)
	if err != nil {
		return err
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	incomplete, err := store.ListIncompleteSpecies()
	if err != nil {
		return err
	}
	slogger.Info("found species with missing metadata", "count", len(incomplete))
	if dryRun {
		for i := range incomplete {
			cmd.Printf("%s  %s\n", incomplete[i].ID, incomplete[i].ScientificName)
		}
		return nil
	}

	var taxonomy enrichment.TaxonomySource
	if settings.Enrichment.GBIF.Enabled {
		taxonomy = gbif.New(settings)
	}
	var summaries enrichment.SummarySource
	if settings.Enrichment.Wikimedia.Enabled {
		summaries = wikimedia.New(settings)
	}
	var speciesInfo enrichment.SpeciesInfoSource
	if settings.Enrichment.EBird.Enabled {
		speciesInfo = ebird.New(settings)
	}
	var images *enrichment.ImageCache
	if settings.Enrichment.ImageCache.Enabled {
		if images, err = enrichment.NewImageCache(settings.Enrichment.ImageCache.Dir); err != nil {
			return err
		}
	}
	enricher := enrichment.New(store, taxonomy, summaries, speciesInfo, images)

	refreshed, failed := 0, 0
	for i := range incomplete {
		species := incomplete[i]
		if err := enricher.Refresh(cmd.Context(), &species); err != nil {
			slogger.Warn("refresh failed", "species_id", species.ID,
				"scientific_name", species.ScientificName, "error", err)
			failed++
			continue
		}
		refreshed++
	}
	slogger.Info("backfill complete", "refreshed", refreshed, "failed", failed)
	cmd.Printf("refreshed %d species, %d failed\n", refreshed, failed)
	return nil
}
