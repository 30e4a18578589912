package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jjtimmons/pcrdesign/internal/blast"
)

// blastCmd is for running a single BLAST search against a database
var blastCmd = &cobra.Command{
	Use:                        "blast [sequence]",
	Short:                      "BLAST a sequence against a database",
	RunE:                       runBlast,
	Args:                       cobra.MaximumNArgs(1),
	SuggestionsMinimumDistance: 2,
	Example: `  pcrdesign blast ACGTTGCAGGCATGCAAGCTTGGC
  pcrdesign blast --in target.fa --db refseq_rna --param evalue=1e-5 --outfmt "6 sacc sstart send"`,
	Long: `BLAST a sequence against a database and write blastn's output to stdout.

Results are cached by the command and the query. Running the same search
again returns the stored output without starting blastn.`,
}

func init() {
	blastCmd.Flags().StringP("in", "i", "", "input FASTA file with the query")
	blastCmd.Flags().StringP("db", "d", "", "database to search (default is blast.database)")
	blastCmd.Flags().StringP("outfmt", "f", "", "blastn output format (default is blast.outfmt)")
	blastCmd.Flags().StringToStringP("param", "p", nil, "blastn option as key=value, repeatable")
	blastCmd.Flags().Bool("primers", false, "query is a forward and reverse primer separated by a comma")
	blastCmd.Flags().Bool("hits", false, "write the accessions of hits rather than blastn's output")
	blastCmd.Flags().Bool("no-cache", false, "don't read or write the result cache")

	RootCmd.AddCommand(blastCmd)
}

func runBlast(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	in, _ := flags.GetString("in")
	db, _ := flags.GetString("db")
	outfmt, _ := flags.GetString("outfmt")
	extra, _ := flags.GetStringToString("param")
	primers, _ := flags.GetBool("primers")
	hits, _ := flags.GetBool("hits")
	noCache, _ := flags.GetBool("no-cache")

	if (in == "") == (len(args) == 0) {
		return fmt.Errorf("%w: pass either a sequence or --in", blast.ErrInvalidParameter)
	}
	if primers && len(args) == 0 {
		return fmt.Errorf("%w: --primers needs forward,reverse as the argument", blast.ErrInvalidParameter)
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := a.runner
	if db != "" {
		runner = runner.WithDatabase(a.conf.Blast.DatabaseDir, db)
	}

	p := blast.Params{}
	if primers {
		fwd, rev, ok := strings.Cut(args[0], ",")
		if !ok {
			return fmt.Errorf("%w: --primers needs forward,reverse", blast.ErrInvalidParameter)
		}
		p = blast.PrimerParams(strings.TrimSpace(fwd), strings.TrimSpace(rev))
	} else if in != "" {
		p["sequence"] = in
	} else {
		p["sequence"] = args[0]
	}
	for k, v := range extra {
		p[k] = v
	}
	if outfmt != "" {
		p["outfmt"] = outfmt
	}

	job := blast.NewJob(p.JobID())
	opts := blast.RunOptions{UseCache: !noCache, QueryIsFile: in != "" && !primers}
	if _, err := runner.Run(cmd.Context(), job, p, opts); err != nil {
		return err
	}
	if job.Failed() {
		return fmt.Errorf("%w: blastn failed: %s", blast.ErrExternalTool, strings.TrimSpace(job.Stderr()))
	}

	if !hits {
		fmt.Fprint(os.Stdout, job.Stdout())
		return nil
	}

	f := p["outfmt"]
	if f == "" {
		f = a.conf.Blast.OutFmt
	}

	var accessions []string
	if strings.Fields(f)[0] == "5" {
		if accessions, err = blast.Hits(job.Stdout()); err != nil {
			return err
		}
	} else {
		found, err := blast.TabularHits(job.Stdout(), f)
		if err != nil {
			return err
		}
		for _, h := range found {
			accessions = append(accessions, h.Accession)
		}
	}
	for _, acc := range accessions {
		fmt.Println(acc)
	}
	return nil
}
