package commands

import (
	"encoding/json"

	"github.com/bladealex9848/expert-nexus/internal/printer"
	"github.com/spf13/cobra"
)

var expertsJSON bool

var expertsCmd = &cobra.Command{
	Use:   "experts",
	Short: "List the expert catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return printer.Error("Could not load the expert catalog", err.Error(), []string{"Check --catalog or EXPERTS_FILE"})
		}
		out := cmd.OutOrStdout()
		if expertsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.Registry.All())
		}
		p := printer.New(out, cmd.ErrOrStderr())
		for _, d := range catalog.Registry.All() {
			marker := " "
			if d.Key == catalog.DefaultExpert {
				marker = "*"
			}
			p.Info("%s %-28s %s\n", marker, d.Key, d.Title)
		}
		p.Faint("\n%d experts, * = default\n", catalog.Registry.Len())
		return nil
	},
}

func init() {
	expertsCmd.Flags().BoolVar(&expertsJSON, "json", false, "Print the catalog as JSON")
	rootCmd.AddCommand(expertsCmd)
}
