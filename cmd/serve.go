package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jjtimmons/pcrdesign/internal/registry"
	"github.com/jjtimmons/pcrdesign/internal/server"
)

// serveCmd is for running the REST API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve BLAST jobs, accession lookups and primer design over HTTP",
	RunE:  runServe,
	Long: `Serve the REST API:

  POST /blast/               submit a BLAST job, returns its job_id
  GET  /blast/:id            the job's state (?wait=30s blocks until it's done)
  GET  /blast/hits/:id       the accessions hit by a finished job
  POST /blast_primers/       submit a BLAST of a forward and reverse primer
  GET  /nucleotide/:acc      the FASTA record of an accession
  POST /nucleotide/          the FASTA records of several accessions
  POST /design/              design primers for a sequence
  GET  /metrics              prometheus metrics`,
}

func init() {
	serveCmd.Flags().String("addr", "", "address to listen on (default is server.addr)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := registry.New(a.runner, a.conf.Server.Workers, nil)
	defer jobs.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &server.Server{
		Jobs:          jobs,
		Builder:       a.runner,
		Resolver:      a.resolver,
		Designer:      a.designer,
		ResultTimeout: a.conf.Server.ResultTimeout,
	}
	return s.ListenAndServe(ctx, a.conf.Server.Addr)
}
