// Package blast builds, runs and caches blastn searches, and resolves database
// accessions to sequences with blastdbcmd.
package blast

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidParameter is returned when a job's parameters are malformed. No process is started
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrExternalTool is returned when blastn or blastdbcmd could not be run at all
	ErrExternalTool = errors.New("external tool failure")

	// ErrLookupFailed is returned when blastdbcmd fails to resolve accessions
	ErrLookupFailed = errors.New("accession lookup failed")
)

// Params is a mapping from blastn option names (without the leading "-") to values.
// "sequence", "job_id", "num_threads" and "outfmt" have special handling; see Builder
type Params map[string]string

// Sequence returns the query sequence or path
func (p Params) Sequence() string { return p["sequence"] }

// JobID returns the job identifier
func (p Params) JobID() string { return p["job_id"] }

// Clone returns a copy of p
func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// PrimerParams returns parameters for BLAST'ing a primer pair, joined by a
// run of Ns, with settings suited to short primers
//
// https://eu.idtdna.com/pages/education/decoded/article/tips-for-using-blast-to-locate-pcr-primers
func PrimerParams(forward, reverse string) Params {
	return Params{
		"forward":   forward,
		"reverse":   reverse,
		"sequence":  forward + strings.Repeat("N", 10) + reverse,
		"word_size": "7",
		"evalue":    "1000",
		"dust":      "no",
	}
}

// NewID returns a short random identifier for jobs and temporary files
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// blastOptions are passed to blastn as "-key value"
var blastOptions = map[string]bool{
	"word_size": true, "gapopen": true, "gapextend": true, "reward": true, "penalty": true,
	"strand": true, "dust": true, "filtering_db": true, "window_masker_taxid": true,
	"window_masker_db": true, "soft_masking": true, "lcase_masking": true, "db_soft_mask": true,
	"db_hard_mask": true, "perc_identity": true, "template_type": true, "template_length": true,
	"use_index": true, "index_name": true, "xdrop_ungap": true, "xdrop_gap": true,
	"xdrop_gap_final": true, "no_greedy": true, "min_raw_gapped_score": true, "ungapped": true,
	"window_size": true, "evalue": true,
}

// switches are blastn options that don't take a value
var switches = map[string]bool{
	"lcase_masking": true,
	"no_greedy":     true,
	"ungapped":      true,
}

// handled are keys consumed by the builder rather than passed through
var handled = map[string]bool{
	"sequence": true, "forward": true, "reverse": true, "job_id": true, "num_threads": true, "outfmt": true,
}

// formats are the valid base codes for -outfmt
var formats = map[string]bool{
	"0": true, "1": true, "2": true, "3": true, "4": true, "5": true,
	"6": true, "7": true, "8": true, "9": true, "10": true, "11": true,
}

// formatFields are the valid extension tokens for the tabular -outfmt codes
var formatFields = map[string]bool{
	"qseqid": true, "qgi": true, "qacc": true, "sseqid": true, "sallseqid": true, "sgi": true,
	"sallgi": true, "sacc": true, "sallacc": true, "qstart": true, "qend": true, "sstart": true,
	"send": true, "qseq": true, "sseq": true, "evalue": true, "bitscore": true, "score": true,
	"length": true, "pident": true, "nident": true, "mismatch": true, "positive": true,
	"gapopen": true, "gaps": true, "ppos": true, "frames": true, "qframe": true, "sframe": true,
	"btop": true, "staxids": true, "sscinames": true, "scomnames": true, "sblastnames": true,
	"sskingdoms": true, "stitle": true, "salltitles": true, "sstrand": true, "qcovs": true,
	"qcovhsp": true, "qcovus": true,
}

// Invocation is a validated blastn command and its query
type Invocation struct {
	// JobID is the job's identifier, generated if it wasn't in the parameters
	JobID string

	// Call is the canonical command: executable, database, format, options and task.
	// It excludes the query path and thread count so it's stable across jobs
	Call []string

	// Query is the FASTA payload
	Query string

	// QueryPath is set if the query was read from a caller's file
	QueryPath string

	// NumThreads for -num_threads
	NumThreads int

	// Short is whether "-task blastn-short" was added
	Short bool

	// Params are the normalized parameters
	Params Params
}

// Body returns the query after its header line
func (i *Invocation) Body() string {
	return body(i.Query)
}

// Command returns the full command line, reading the query from queryPath
func (i *Invocation) Command(queryPath string) []string {
	argv := append([]string(nil), i.Call...)
	return append(argv,
		"-query", queryPath,
		"-num_threads", strconv.Itoa(i.NumThreads),
	)
}

// Builder turns Params into blastn invocations
type Builder struct {
	// Executable is the path to blastn
	Executable string

	// Database is the path to the BLAST database
	Database string

	// ShortSequence is the query length below which "-task blastn-short" is used
	ShortSequence int

	// NumThreads is used when the parameters don't set num_threads
	NumThreads int

	// OutFmt is used when the parameters don't set outfmt
	OutFmt string

	Logger *slog.Logger
}

// Build validates p and creates its invocation. If queryIsFile, the "sequence"
// parameter is a path to a FASTA file that's read as the query
func (b *Builder) Build(p Params, queryIsFile bool) (*Invocation, error) {
	p, err := b.normalize(p, queryIsFile)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{
		JobID:  p.JobID(),
		Query:  p.Sequence(),
		Params: p,
	}
	inv.NumThreads, _ = strconv.Atoi(p["num_threads"])

	if queryIsFile {
		inv.QueryPath = p.Sequence()
		dat, err := os.ReadFile(inv.QueryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read query file %s: %w", inv.QueryPath, err)
		}
		inv.Query = string(dat)
	}

	call := []string{
		b.Executable,
		"-db", b.Database,
		"-outfmt", p["outfmt"],
	}

	// sorted so the same parameters always produce the same command
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := p[k]
		switch {
		case switches[k]:
			if v == "" || strings.EqualFold(v, "true") || v == "1" {
				call = append(call, "-"+k)
			}
		case blastOptions[k]:
			call = append(call, "-"+k, v)
		case !handled[k]:
			b.logger().Warn("encountered invalid parameter", "parameter", k, "job", inv.JobID)
		}
	}

	if bases(inv.Body()) < b.shortSequence() {
		call = append(call, "-task", "blastn-short")
		inv.Short = true
	}

	inv.Call = call
	return inv, nil
}

// normalize checks p and returns a copy with the job id, header, thread count and format filled in
func (b *Builder) normalize(p Params, queryIsFile bool) (Params, error) {
	p = p.Clone()

	seq := strings.TrimSpace(p.Sequence())
	if seq == "" {
		return nil, fmt.Errorf("%w: no sequence provided", ErrInvalidParameter)
	}

	jobID := p.JobID()
	if jobID == "" {
		jobID = NewID()
	}

	if !queryIsFile && !strings.HasPrefix(seq, ">") {
		seq = fmt.Sprintf(">%s\n%s", jobID, seq)
	}
	p["sequence"] = seq
	p["job_id"] = jobID

	threads := b.NumThreads
	if v, ok := p["num_threads"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: num_threads must be an integer, got %q", ErrInvalidParameter, v)
		}
		threads = n
	}
	if threads < 1 {
		return nil, fmt.Errorf("%w: num_threads needs to be 1 or higher", ErrInvalidParameter)
	}
	p["num_threads"] = strconv.Itoa(threads)

	outfmt, ok := p["outfmt"]
	if !ok {
		outfmt = b.OutFmt
	}
	outfmt = strings.ToLower(strings.TrimSpace(outfmt))
	if err := validFormat(outfmt); err != nil {
		return nil, err
	}
	p["outfmt"] = outfmt

	return p, nil
}

// validFormat checks the base code and extension tokens of an -outfmt value
func validFormat(outfmt string) error {
	parts := strings.Fields(outfmt)
	if len(parts) == 0 || !formats[parts[0]] {
		return fmt.Errorf("%w: outfmt needs to be one of 0-11, got %q", ErrInvalidParameter, outfmt)
	}
	for _, field := range parts[1:] {
		if !formatFields[field] {
			return fmt.Errorf("%w: found invalid format extension: %s", ErrInvalidParameter, field)
		}
	}
	return nil
}

func (b *Builder) shortSequence() int {
	if b.ShortSequence > 0 {
		return b.ShortSequence
	}
	return 25
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// body returns everything after the first line of a FASTA query
func body(query string) string {
	if i := strings.IndexByte(query, '\n'); i >= 0 {
		return query[i+1:]
	}
	return query
}

// bases counts the non-whitespace characters in seq
func bases(seq string) int {
	n := 0
	for _, c := range seq {
		if c != ' ' && c != '\n' && c != '\r' && c != '\t' {
			n++
		}
	}
	return n
}
