package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	flagBranch    string
	flagNamespace string
	flagDocsURL   string
	flagJSON      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <repo>",
	Short: "Index a repository (owner/name, git URL or local directory)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, config)
		if err != nil {
			return err
		}
		defer a.close()

		color.Blue("Indexing %s\n", args[0])
		start := time.Now()
		report, err := a.ingestRepo(ctx, ingestOptions{
			Repo:      args[0],
			Branch:    flagBranch,
			Namespace: flagNamespace,
			DocsURL:   flagDocsURL,
			Quiet:     flagJSON,
		})
		if err != nil {
			return err
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("\nDone in %s\n", elapsed(start))
		fmt.Printf("  Namespace: %s\n", report.Namespace)
		fmt.Printf("  Documents: %d\n", report.Documents)
		fmt.Printf("  Chunks:    %d (%d upserted)\n", report.Chunks, report.Upserted)
		fmt.Printf("  Index:     %d records\n", report.Index.Records)
		if len(report.Failed) > 0 {
			color.Yellow("  %d of %d batches failed (%d records):", len(report.Failed), report.Batches, report.FailedRecords())
			for _, f := range report.Failed {
				color.Yellow("    batch %d: %s", f.Batch, f.Error)
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&flagBranch, "branch", "", "branch to clone (default from config)")
	ingestCmd.Flags().StringVar(&flagNamespace, "namespace", "", "index namespace (default owner/name)")
	ingestCmd.Flags().StringVar(&flagDocsURL, "docs-url", "", "documentation site to scrape into the same namespace")
	ingestCmd.Flags().BoolVar(&flagJSON, "json", false, "print the ingestion report as JSON")
	rootCmd.AddCommand(ingestCmd)
}
