// Package primer3 generates candidate primer pairs for a target by running primer3_core.
package primer3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/command"
	"github.com/jjtimmons/pcrdesign/internal/fasta"
	"github.com/jjtimmons/pcrdesign/internal/primer"
)

// ErrFailed is returned when primer3 reports an error or can't be run
var ErrFailed = errors.New("primer3 failed")

// settings are the fixed primer3 settings for PCR primers.
// See the primer3 manual for each tag
var settings = map[string]string{
	"PRIMER_TASK":                  "generic",
	"PRIMER_PICK_LEFT_PRIMER":      "1",
	"PRIMER_PICK_RIGHT_PRIMER":     "1",
	"PRIMER_PICK_INTERNAL_OLIGO":   "1",
	"PRIMER_INTERNAL_MAX_SELF_END": "8",
	"PRIMER_MIN_SIZE":              "18",
	"PRIMER_OPT_SIZE":              "21",
	"PRIMER_MAX_SIZE":              "25",
	"PRIMER_MIN_TM":                "57.0",
	"PRIMER_OPT_TM":                "60.0",
	"PRIMER_MAX_TM":                "65.0",
	"PRIMER_MIN_GC":                "40.0",
	"PRIMER_MAX_GC":                "80.0",
	"PRIMER_MAX_POLY_X":            "100",
	"PRIMER_INTERNAL_MAX_POLY_X":   "100",
	"PRIMER_SALT_MONOVALENT":       "50.0",
	"PRIMER_DNA_CONC":              "50.0",
	"PRIMER_MAX_NS_ACCEPTED":       "0",
	"PRIMER_MAX_SELF_ANY":          "12",
	"PRIMER_MAX_SELF_END":          "8",
	"PRIMER_PAIR_MAX_COMPL_ANY":    "12",
	"PRIMER_PAIR_MAX_COMPL_END":    "8",
	"PRIMER_PRODUCT_SIZE_RANGE":    "450-1000",
}

// Generator runs primer3_core
type Generator struct {
	// Executable is the path to primer3_core
	Executable string

	// ConfigDir is primer3's thermodynamic parameters folder (with trailing separator).
	// primer3's built-in path is used if empty
	ConfigDir string

	Cmd    command.Runner
	Logger *slog.Logger
}

// New creates a Generator from the primer3 settings
func New(c *config.Config, cmd command.Runner, logger *slog.Logger) *Generator {
	if cmd == nil {
		cmd = command.Exec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		Executable: c.Primer3.Executable,
		ConfigDir:  c.Primer3.ConfigDir,
		Cmd:        cmd,
		Logger:     logger,
	}
}

// Generate asks primer3 for up to n primer pairs on the record's sequence
func (g *Generator) Generate(ctx context.Context, rec fasta.Record, n int) (Output, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: number of primers to return must be 1 or higher, got %d", ErrFailed, n)
	}

	input := Input(rec, n, g.ConfigDir)
	res, err := g.Cmd.Run(ctx, bytes.NewReader(input), g.Executable, "-strict_tags")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute primer3 on %s: %v", ErrFailed, rec.ID, err)
	}
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		return nil, fmt.Errorf("%w: %s", ErrFailed, stderr)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: primer3_core exit status %d", ErrFailed, res.ExitCode)
	}

	out := Parse(res.Stdout)
	if p3Error := out["PRIMER_ERROR"]; p3Error != "" {
		return nil, fmt.Errorf("%w: failed to create primers for %s: %s", ErrFailed, rec.ID, p3Error)
	}
	if p3Warnings := out["PRIMER_WARNING"]; p3Warnings != "" {
		g.Logger.Warn("primer3 warnings", "sequence", rec.ID, "warning", p3Warnings)
	}

	g.Logger.Debug("generated primers", "sequence", rec.ID, "requested", n, "returned", out.NumReturned())
	return out, nil
}

// Input returns the Boulder-IO record for primer3_core
func Input(rec fasta.Record, n int, configDir string) []byte {
	tags := make(map[string]string, len(settings)+4)
	for k, v := range settings {
		tags[k] = v
	}
	tags["SEQUENCE_ID"] = rec.ID
	tags["SEQUENCE_TEMPLATE"] = strings.ToUpper(rec.Seq)
	tags["PRIMER_NUM_RETURN"] = strconv.Itoa(n)
	if configDir != "" {
		tags["PRIMER_THERMODYNAMIC_PARAMETERS_PATH"] = configDir
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, tags[k])
	}
	buf.WriteString("=\n") // required at the record's end

	return buf.Bytes()
}

// Output is the flat KEY=VALUE result of primer3
type Output map[string]string

// Parse reads primer3's output into a map. Reading stops at the record separator
func Parse(stdout string) Output {
	out := make(Output)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "=" {
			break
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return out
}

// NumReturned is the number of left primers returned
func (o Output) NumReturned() int {
	n, _ := strconv.Atoi(o["PRIMER_LEFT_NUM_RETURNED"])
	return n
}

// Pair returns the i-th ranked primer pair
func (o Output) Pair(i int) (primer.Pair, error) {
	fwd, err := o.primer("LEFT", i)
	if err != nil {
		return primer.Pair{}, err
	}
	rev, err := o.primer("RIGHT", i)
	if err != nil {
		return primer.Pair{}, err
	}

	penalty, _ := strconv.ParseFloat(o[fmt.Sprintf("PRIMER_PAIR_%d_PENALTY", i)], 64)
	return primer.Pair{Forward: fwd, Reverse: rev, Penalty: penalty}, nil
}

// Pairs returns the ranked pairs from index from to the number returned
func (o Output) Pairs(from int) ([]primer.Pair, error) {
	var pairs []primer.Pair
	for i := from; i < o.NumReturned(); i++ {
		p, err := o.Pair(i)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// primer reads a single primer. side is either "LEFT" or "RIGHT"
func (o Output) primer(side string, i int) (primer.Primer, error) {
	seq := o[fmt.Sprintf("PRIMER_%s_%d_SEQUENCE", side, i)]
	if seq == "" {
		return primer.Primer{}, fmt.Errorf("%w: no PRIMER_%s_%d_SEQUENCE in output", ErrFailed, side, i)
	}

	gc, err := strconv.ParseFloat(o[fmt.Sprintf("PRIMER_%s_%d_GC_PERCENT", side, i)], 64)
	if err != nil {
		return primer.Primer{}, fmt.Errorf("%w: bad PRIMER_%s_%d_GC_PERCENT: %v", ErrFailed, side, i, err)
	}
	tm, _ := strconv.ParseFloat(o[fmt.Sprintf("PRIMER_%s_%d_TM", side, i)], 64)
	penalty, _ := strconv.ParseFloat(o[fmt.Sprintf("PRIMER_%s_%d_PENALTY", side, i)], 64)

	return primer.Primer{Seq: seq, GC: gc, Tm: tm, Penalty: penalty}, nil
}
