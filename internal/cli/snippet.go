package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/snippets"
)

func init() {
	rootCmd.AddCommand(newSnippetCmd())
}

func newSnippetCmd() *cobra.Command {
	var framework string
	var serverURL string

	cmd := &cobra.Command{
		Use:   "snippet <experiment>",
		Short: "Generate integration code for an experiment",
		Long:  "Generate copy-paste-ready code that loads gg.js and renders, exposes and converts an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				exp, ok := a.Assigner.Experiment(args[0])
				if !ok {
					return fmt.Errorf("experiment '%s' not found", args[0])
				}

				var fw snippets.Framework
				var err error
				if framework == "" {
					fw, err = promptFramework()
				} else {
					fw, err = snippets.ParseFramework(framework)
				}
				if err != nil {
					return err
				}

				url := serverURL
				if url == "" {
					if url, err = promptServerURL(a.Config.Port); err != nil {
						return err
					}
				}

				variants := make([]string, len(exp.Variants))
				for i, v := range exp.Variants {
					variants[i] = v.ID
				}
				files, err := snippets.Generate(fw, snippets.Config{
					ExperimentID: exp.ID,
					Variants:     variants,
					Goal:         exp.ConversionGoal,
					ServerURL:    url,
				})
				if err != nil {
					return fmt.Errorf("failed to generate snippet: %w", err)
				}
				printSnippets(cmd.OutOrStdout(), files)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&framework, "framework", "f", "", "framework (html, nextjs, react, vue, svelte, laravel, django)")
	cmd.Flags().StringVarP(&serverURL, "server-url", "s", "", "server URL (e.g., https://gg.example.com)")

	return cmd
}

func promptFramework() (snippets.Framework, error) {
	names := map[snippets.Framework]string{
		snippets.FrameworkHTML:    "HTML (vanilla JavaScript)",
		snippets.FrameworkNextJS:  "Next.js",
		snippets.FrameworkReact:   "React",
		snippets.FrameworkVue:     "Vue",
		snippets.FrameworkSvelte:  "Svelte",
		snippets.FrameworkLaravel: "Laravel",
		snippets.FrameworkDjango:  "Django",
	}
	items := make([]string, len(snippets.Frameworks))
	for i, f := range snippets.Frameworks {
		items[i] = names[f]
	}

	prompt := promptui.Select{
		Label: "Select framework",
		Items: items,
		Size:  len(items),
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", promptErr(err)
	}
	return frameworkFromIndex(idx), nil
}

func frameworkFromIndex(idx int) snippets.Framework {
	if idx < 0 || idx >= len(snippets.Frameworks) {
		return snippets.FrameworkHTML
	}
	return snippets.Frameworks[idx]
}

func promptServerURL(port int) (string, error) {
	defaultURL := os.Getenv("GG_SERVER_URL")
	if defaultURL == "" {
		defaultURL = fmt.Sprintf("http://localhost:%d", port)
	}

	prompt := promptui.Prompt{
		Label:   "Server URL",
		Default: defaultURL,
	}
	result, err := prompt.Run()
	if err != nil {
		return "", promptErr(err)
	}
	return strings.TrimRight(result, "/"), nil
}

func printSnippets(out io.Writer, files []snippets.SnippetFile) {
	for i, file := range files {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, strings.Repeat("=", 62))
		fmt.Fprintf(out, " %s\n", file.Filename)
		fmt.Fprintln(out, strings.Repeat("=", 62))
		fmt.Fprintln(out)
		fmt.Fprintln(out, file.Content)
	}
}
