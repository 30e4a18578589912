package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// nucleotideCmd is for getting the records of accessions from a BLAST database
var nucleotideCmd = &cobra.Command{
	Use:                        "nucleotide [accession] ... [accessionN]",
	Short:                      "Get the FASTA records of accessions from a database",
	RunE:                       runNucleotide,
	Args:                       cobra.MinimumNArgs(1),
	SuggestionsMinimumDistance: 2,
	Example:                    "  pcrdesign nucleotide NM_000546 NM_001126112 --db refseq_rna",
	Aliases:                    []string{"nuc", "accession"},
}

func init() {
	nucleotideCmd.Flags().StringP("db", "d", "", "database with the records (default is blast.database)")

	RootCmd.AddCommand(nucleotideCmd)
}

func runNucleotide(cmd *cobra.Command, args []string) error {
	db, _ := cmd.Flags().GetString("db")

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	resolver := a.resolver
	if db != "" {
		resolver = resolver.WithDatabase(a.conf.Blast.DatabaseDir, db)
	}

	records, err := resolver.ResolveMany(cmd.Context(), args)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Print(rec)
	}
	return nil
}
