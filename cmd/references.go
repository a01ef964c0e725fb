/*
Copyright © 2025 Godwin Mafireyi (mafireyi@gmail.com)
*/
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/gmaffy/encode-map/mapping"
	"github.com/spf13/cobra"
)

// referencesCmd represents the references command
var referencesCmd = &cobra.Command{
	Use:   "references",
	Short: "List the reference genomes reads can be mapped to",
	Long: `Prints the assembly, organism, sex and reference tarball of every reference,
including any added or replaced by the references section of --config.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		refs := mapping.MergeReferences(mapping.DefaultReferences, cfg.References)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ASSEMBLY\tORGANISM\tSEX\tFILE")
		for _, ref := range refs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ref.Assembly, ref.Organism, ref.Sex, ref.File)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(referencesCmd)
}
