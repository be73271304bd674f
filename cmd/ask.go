package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/pkg/engine"
)

var (
	flagRepo      string
	flagMode      string
	flagShowTrace bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer one question about a repository",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, namespace, err := openRepo(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		return ask(ctx, a, namespace, strings.Join(args, " "))
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions about a repository interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, namespace, err := openRepo(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		color.Cyan("\nChat with %s (type 'exit' to quit)", namespace)

		scanner := bufio.NewScanner(os.Stdin)
		userPrompt := color.New(color.FgGreen).PrintfFunc()
		for {
			userPrompt("\nYou: ")
			if !scanner.Scan() {
				break
			}

			query := strings.TrimSpace(scanner.Text())
			if strings.ToLower(query) == "exit" {
				break
			}
			if query == "" {
				continue
			}

			if err := ask(ctx, a, namespace, query); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				color.Red("Error: %v\n", err)
			}
		}
		return scanner.Err()
	},
}

// openRepo loads the config, opens the services and makes sure the
// repository given by --repo is indexed.
func openRepo(ctx context.Context) (*app, string, error) {
	if flagRepo == "" {
		return nil, "", fmt.Errorf("--repo is required")
	}
	config, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if flagMode != "" {
		config.Engine.Mode = flagMode
	}
	a, err := newApp(ctx, config)
	if err != nil {
		return nil, "", err
	}

	namespace := namespaceFor(flagRepo, flagNamespace)
	if err := a.ensureIndexed(ctx, flagRepo, namespace, false); err != nil {
		a.close()
		return nil, "", err
	}
	return a, namespace, nil
}

// ask runs one query on a fresh session and prints the answer.
func ask(ctx context.Context, a *app, namespace, query string) error {
	cfg := a.engineConfig(namespace)
	spinner := getSpinner("🔍 Searching repository...", false)
	cfg.OnEntry = func(e models.ChatLogEntry) {
		spinner.Describe(color.CyanString("🔍 round %d, threshold %d: %q scored %d",
			e.Round, e.Threshold, e.Inputs.Query, e.Sufficiency))
	}

	session, err := a.newSession(namespace, cfg)
	if err != nil {
		spinner.Finish()
		return err
	}
	result, err := session.Chat(ctx, query)
	spinner.Finish()
	if err != nil {
		return err
	}

	if flagShowTrace {
		printTrace(result)
	}

	assistant := color.New(color.FgCyan).PrintfFunc()
	if !result.Answered() {
		color.Yellow("\n%s", result.Text())
		return nil
	}
	assistant("\nAssistant: ")
	fmt.Println(result.Answer)
	if len(result.Context.Sources) > 0 {
		color.HiBlack("\nSources: %s", strings.Join(result.Context.Sources, ", "))
	}
	return nil
}

func printTrace(result *engine.Result) {
	fmt.Println()
	for _, e := range result.ChatLog {
		mark := color.RedString("✗")
		if e.Sufficiency > e.Threshold {
			mark = color.GreenString("✓")
		}
		fmt.Printf("%s round %d  threshold %3d  score %3d  %s\n", mark, e.Round, e.Threshold, e.Sufficiency, e.Inputs.Query)
	}
	u := result.Usage
	color.HiBlack("%d calls, %d tokens (%d prompt, %d completion)", u.Calls, u.TotalTokens, u.PromptTokens, u.CompletionTokens)
}

func addRepoFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagRepo, "repo", "r", "", "repository (owner/name, git URL or local directory)")
	cmd.Flags().StringVar(&flagNamespace, "namespace", "", "index namespace (default owner/name)")
}

func init() {
	for _, cmd := range []*cobra.Command{askCmd, chatCmd} {
		addRepoFlags(cmd)
		cmd.Flags().StringVar(&flagMode, "mode", "", "engine mode: adaptive or simple (default from config)")
		cmd.Flags().BoolVar(&flagShowTrace, "trace", false, "print every context check")
		rootCmd.AddCommand(cmd)
	}
}
