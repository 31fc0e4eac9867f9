// Package notify sends a synthetic alert through the configured channels
// for smoke-testing delivery.
package notify

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/enrichment"
	"github.com/rion/birdsong-go/internal/notification"
)

// Command returns the notify subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		rule       string
		species    string
		commonName string
		flush      bool
	)
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test alert through the configured channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, settings, rule, species, commonName, flush)
		},
	}
	cmd.Flags().StringVar(&rule, "rule", alert.RuleRareSpecies, "rule name to attach to the test alert")
	cmd.Flags().StringVar(&species, "species", "Corvus corax", "scientific name for the test alert")
	cmd.Flags().StringVar(&commonName, "common-name", "Common Raven", "common name for the test alert")
	cmd.Flags().BoolVar(&flush, "flush", false, "also flush pending summaries to digest channels")
	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, rule, species, commonName string, flush bool) error {
	channels, err := notification.BuildChannels(&settings.Notification)
	if err != nil {
		return err
	}
	store, err := notification.NewBucketStore(settings.Notification.BucketFile)
	if err != nil {
		return err
	}
	retention, err := conf.ParsePeriod(settings.Notification.Retention)
	if err != nil {
		return err
	}
	service := notification.NewService(channels, store, retention)

	now := time.Now()
	event := &alert.Event{
		RuleName: rule,
		Severity: "info",
		Time:     now,
		Detection: alert.Detection{
			SpeciesID:      enrichment.SpeciesID(species),
			ScientificName: species,
			CommonName:     commonName,
			Confidence:     0.94,
			Time:           now,
		},
		Context: map[string]any{"reason": rule, "test": true},
	}
	service.HandleAlert(cmd.Context(), event)
	cmd.Printf("test alert sent through %d channel(s)\n", len(channels))

	if flush {
		if err := service.FlushSummaries(cmd.Context(), nil); err != nil {
			return err
		}
		cmd.Println("summaries flushed")
	}
	return nil
}
