package commands

import (
	"strings"

	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/bladealex9848/expert-nexus/internal/printer"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify MESSAGE...",
	Short: "Show which expert the keyword classifier would suggest",
	Long: `Runs the keyword classifier on MESSAGE and prints the suggested
expert together with the keyword hits of every expert that matched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return printer.Error("Could not load the expert catalog", err.Error(), nil)
		}
		text := strings.Join(args, " ")
		p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

		key, ok := catalog.Classify(text)
		if !ok {
			p.Warning("No expert matched\n")
			return nil
		}
		d, _ := catalog.Registry.Get(key)
		p.Success("%s (%s)\n", d.Key, d.Title)
		for _, s := range expert.Scores(text, catalog.Keywords) {
			p.Info("  %-28s %d  %s\n", s.Key, s.Count, strings.Join(s.Matched, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
