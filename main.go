package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rion/birdsong-go/cmd/backfill"
	"github.com/rion/birdsong-go/cmd/notify"
	"github.com/rion/birdsong-go/cmd/serve"
	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/datastore"
	"github.com/rion/birdsong-go/internal/enrichment"
	"github.com/rion/birdsong-go/internal/logging"
	"github.com/rion/birdsong-go/internal/notification"
	"github.com/rion/birdsong-go/internal/pipeline"
	"github.com/rion/birdsong-go/internal/retry"
)

func main() {
	logging.Init()
	datastore.SetLogger(logging.ForService("datastore"))
	retry.SetLogger(logging.ForService("retry"))
	enrichment.SetLogger(logging.ForService("enrichment"))
	alert.SetLogger(logging.ForService("alert"))
	notification.SetLogger(logging.ForService("notification"))
	pipeline.SetLogger(logging.ForService("pipeline"))

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "birdsong",
		Short: "Bird audio detection enrichment and notification pipeline",
	}
	rootCmd.AddCommand(
		serve.Command(settings),
		backfill.Command(settings),
		notify.Command(settings),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
