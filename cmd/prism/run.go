package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/blob"
	"github.com/prismlab/prism/internal/research"
	"github.com/prismlab/prism/internal/statestore"
	"github.com/prismlab/prism/internal/telemetry"
	"github.com/prismlab/prism/provider"
	"github.com/prismlab/prism/tools/gateway"
	"github.com/prismlab/prism/tools/toolset"
	"github.com/prismlab/prism/tools/webfetch"
)

// runCmd executes one research session entirely in-process: no Postgres, no
// Redis, artifacts written under the blob data dir. Ctrl-C triggers
// cooperative cancellation.
func runCmd(configPath *string) *cobra.Command {
	var (
		topic        string
		topicContext string
		researchType string
		depth        string
		refURLs      []string
		formats      []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single research session from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(topic) == "" {
				return fmt.Errorf("--topic required")
			}
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			llmProvider, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			metrics := telemetry.New(nil)
			tools, err := toolset.Build(cfg.Tools)
			if err != nil {
				return err
			}
			gw := gateway.New(cfg.Tools.Gateway.Normalize(), metrics, tools...)

			fetcher, err := webfetch.NewFetcher(webfetch.FetcherType(cfg.Tools.WebFetch.Fetcher), cfg.Tools.WebFetch.Timeout, cfg.Tools.WebFetch.MaxChars)
			if err != nil {
				return err
			}

			dataDir := cfg.Storage.Blob.DataDir
			if dataDir == "" {
				dataDir = "./data"
			}
			secret := cfg.Server.PresignSecret
			if secret == "" {
				secret = "local-run"
			}
			blobs, err := blob.NewFilesystem(dataDir, []byte(secret), cfg.Storage.Blob.PublicBase)
			if err != nil {
				return err
			}

			meta := research.NewInMemoryMetadata()
			statuses := statestore.NewInMemory()
			controller := research.NewController(
				cfg.Research.Normalize(),
				llmProvider,
				cfg.LLM.Routing,
				gw,
				research.NewPreprocessor(fetcher, cfg.Tools.WebFetch.MaxChars),
				blobs,
				meta,
				statuses,
				metrics,
			)

			var refs []research.ReferenceInput
			for _, u := range refURLs {
				refs = append(refs, research.ReferenceInput{URL: u})
			}
			session, err := controller.Launch(research.SessionRequest{
				Topic:      topic,
				Context:    topicContext,
				Type:       research.ResearchType(researchType),
				Depth:      depth,
				References: refs,
				Formats:    formats,
			})
			if err != nil {
				return err
			}
			fmt.Printf("session %s started\n", session.ID)

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			lastStage := ""
			for {
				select {
				case <-sigs:
					fmt.Println("cancelling...")
					controller.Cancel(context.Background(), session.ID)
				case <-ticker.C:
					rec, ok, _ := statuses.Get(context.Background(), session.ID)
					if !ok {
						continue
					}
					if rec.Stage != lastStage && rec.Stage != "" {
						fmt.Printf("stage %-12s %3.0f%%\n", rec.Stage, rec.Progress*100)
						lastStage = rec.Stage
					}
					if rec.Status.Terminal() {
						fmt.Printf("session %s %s\n", session.ID, rec.Status)
						if rec.Error != "" {
							fmt.Printf("error: %s\n", rec.Error)
						}
						for format, locator := range rec.Artifacts {
							fmt.Printf("  %-8s %s\n", format, locator)
						}
						if rec.Status != research.StatusCompleted {
							os.Exit(1)
						}
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "research topic")
	cmd.Flags().StringVar(&topicContext, "context", "", "additional context for the topic")
	cmd.Flags().StringVar(&researchType, "type", string(research.TypeBasicWeb), "research type (basic-web, advanced-web, academic, financial, comprehensive)")
	cmd.Flags().StringVar(&depth, "depth", "", "depth profile NxM, e.g. 3x3")
	cmd.Flags().StringSliceVar(&refURLs, "ref", nil, "reference URL (repeatable)")
	cmd.Flags().StringSliceVar(&formats, "format", []string{"markdown"}, "output formats (markdown, html, pdf)")
	return cmd
}
