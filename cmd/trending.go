package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cfgPkg "github.com/xhad/repochat/pkg/config"
	"github.com/xhad/repochat/pkg/trending"
)

var (
	flagLanguage string
	flagDays     int
	flagMinStars int
	flagLimit    int
)

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "List recently created, popular GitHub repositories to evaluate against",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Only the GitHub token matters here, so skip validation.
		config, err := cfgPkg.LoadConfig(flagConfig)
		if err != nil {
			return err
		}

		client := trending.New(config.GitHub.Token)
		repos, err := client.Search(cmd.Context(), trending.Options{
			Language: flagLanguage,
			Days:     flagDays,
			MinStars: flagMinStars,
			Limit:    flagLimit,
		})
		if err != nil {
			return err
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(repos)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REPO\tSTARS\tLANGUAGE\tCREATED\tDESCRIPTION")
		for _, r := range repos {
			desc := r.Description
			if len(desc) > 60 {
				desc = desc[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.FullName, r.Stars, r.Language, r.CreatedAt.Format("2006-01-02"), desc)
		}
		return w.Flush()
	},
}

func init() {
	trendingCmd.Flags().StringVarP(&flagLanguage, "language", "l", "", "only repositories in this language")
	trendingCmd.Flags().IntVar(&flagDays, "days", 30, "created within the last N days")
	trendingCmd.Flags().IntVar(&flagMinStars, "min-stars", 0, "minimum star count")
	trendingCmd.Flags().IntVar(&flagLimit, "limit", 25, "number of repositories (max 100)")
	trendingCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")
	rootCmd.AddCommand(trendingCmd)
}
