package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jjtimmons/pcrdesign/internal/design"
)

// designCmd is for designing primer pairs for a target sequence
var designCmd = &cobra.Command{
	Use:                        "design [sequence]",
	Short:                      "Design primer pairs specific to a target's homologs",
	RunE:                       runDesign,
	Args:                       cobra.MaximumNArgs(1),
	SuggestionsMinimumDistance: 2,
	Example:                    "  pcrdesign design --in target.fa --pairs 5 --out primers.yaml",
	Long: `Design primer pairs that amplify a single product from a target's homologs.

1. The target is BLAST'ed against the database and the sequences of its hits
   are written to a reference FASTA file
2. gfServer is started on that reference
3. primer3 picks candidate pairs for the target and each one is checked with
   in-silico PCR. Pairs that amplify exactly one product are kept
4. If too few pairs are specific, primer3 is asked for twice as many
   and only the new candidates are checked

The result is written to --out as YAML (.yaml, .yml) or JSON (anything else).`,
	Aliases: []string{"primers"},
}

func init() {
	designCmd.Flags().StringP("in", "i", "", "input FASTA file with the target")
	designCmd.Flags().StringP("out", "o", "", "output file name")
	designCmd.Flags().IntP("pairs", "n", 5, "number of primer pairs to design")
	designCmd.Flags().StringP("db", "d", "", "database to screen against (default is blast.database)")
	designCmd.Flags().Int("pool-size", 0, "pairs requested from primer3 in the first round (default is design.pool_size)")
	designCmd.Flags().BoolP("audit", "a", false, "BLAST each primer for off-target hits")

	RootCmd.AddCommand(designCmd)
}

func runDesign(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	in, _ := flags.GetString("in")
	out, _ := flags.GetString("out")
	pairs, _ := flags.GetInt("pairs")
	db, _ := flags.GetString("db")
	poolSize, _ := flags.GetInt("pool-size")
	audit, _ := flags.GetBool("audit")

	target := in
	if len(args) > 0 {
		target = args[0]
	}
	if target == "" {
		return errors.New("pass either a sequence or --in")
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.designer.Design(cmd.Context(), design.Request{
		Target:   target,
		Pairs:    pairs,
		Database: db,
		PoolSize: poolSize,
		Audit:    audit,
	})
	if result == nil {
		return err
	}

	summarize(os.Stdout, result)
	if out != "" {
		if _, werr := design.Write(out, result); werr != nil {
			return werr
		}
	}
	return err
}

// summarize writes the pairs of a result to w
func summarize(w io.Writer, result *design.Result) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	bold.Fprintf(w, "%s: %d hits in %s, %d candidates over %d rounds (%.1fs)\n",
		result.Target, len(result.Hits), result.Database, result.Screened, result.Iterations, result.Execution)

	if len(result.Pairs) == 0 {
		yellow.Fprintln(w, "no specific pairs found")
		return
	}

	for i, c := range result.Pairs {
		green.Fprintf(w, "pair %d", i+1)
		fmt.Fprintf(w, " (penalty %.2f) %s:%d-%d\n", c.Penalty, c.Amplicon.Name, c.Amplicon.Start, c.Amplicon.End)
		fmt.Fprintf(w, "  forward  %s  tm %.1f  gc %.1f\n", c.Forward.Seq, c.Forward.Tm, c.Forward.GC)
		fmt.Fprintf(w, "  reverse  %s  tm %.1f  gc %.1f\n", c.Reverse.Seq, c.Reverse.Tm, c.Reverse.GC)
		if len(c.OffTargets) > 0 {
			yellow.Fprintf(w, "  off-targets: %v\n", c.OffTargets)
		}
	}
}
