package blast

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Hits returns the accessions of the hits in BLAST XML output (outfmt 5), in order and without repeats
func Hits(stdout string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(stdout))
	dec.Strict = false

	seen := make(map[string]bool)
	var accessions []string
	inAccession := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse BLAST XML: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			inAccession = t.Name.Local == "Hit_accession"
		case xml.EndElement:
			inAccession = false
		case xml.CharData:
			if !inAccession {
				continue
			}
			acc := strings.TrimSpace(string(t))
			if acc != "" && !seen[acc] {
				seen[acc] = true
				accessions = append(accessions, acc)
			}
		}
	}
	return accessions, nil
}

// Hit is a row of tabular BLAST output
type Hit struct {
	// Accession of the subject sequence
	Accession string

	// Start and End on the subject, 0-based. Start <= End
	Start int
	End   int

	// Seq is the aligned part of the subject, without gaps
	Seq string

	// Mismatch is the number of mismatching bases
	Mismatch int
}

// Length is the number of subject bases in the hit
func (h Hit) Length() int {
	return h.End - h.Start + 1
}

// stdFields are the columns of tabular output when no fields are named
var stdFields = []string{
	"qseqid", "sseqid", "pident", "length", "mismatch", "gapopen",
	"qstart", "qend", "sstart", "send", "evalue", "bitscore",
}

// TabularHits parses the rows of tabular output (outfmt 6, 7 or 10) into Hits.
// outfmt is the format string the search ran with, which names the columns
func TabularHits(stdout, outfmt string) ([]Hit, error) {
	parts := strings.Fields(outfmt)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty outfmt", ErrInvalidParameter)
	}

	sep := ""
	switch parts[0] {
	case "6", "7":
	case "10":
		sep = ","
	default:
		return nil, fmt.Errorf("%w: outfmt %s is not tabular", ErrInvalidParameter, parts[0])
	}

	fields := parts[1:]
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "std") {
		fields = stdFields
	}
	col := make(map[string]int, len(fields))
	for i, f := range fields {
		if _, ok := col[f]; !ok {
			col[f] = i
		}
	}

	accCol, ok := col["sacc"]
	if !ok {
		if accCol, ok = col["sseqid"]; !ok {
			return nil, fmt.Errorf("%w: outfmt needs sacc or sseqid", ErrInvalidParameter)
		}
	}

	var hits []Hit
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		// comment lines start with a #
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var cols []string
		if sep == "" {
			cols = strings.Fields(line)
		} else {
			cols = strings.Split(line, sep)
		}
		if len(cols) < len(fields) {
			continue
		}

		h := Hit{Accession: strings.TrimPrefix(cols[accCol], ">")}
		if i, ok := col["sstart"]; ok {
			h.Start, _ = strconv.Atoi(cols[i])
		}
		if i, ok := col["send"]; ok {
			h.End, _ = strconv.Atoi(cols[i])
		}
		if i, ok := col["sseq"]; ok {
			h.Seq = strings.ReplaceAll(cols[i], "-", "")
		}
		if i, ok := col["mismatch"]; ok {
			h.Mismatch, _ = strconv.Atoi(cols[i])
		}

		// direction isn't guaranteed
		if h.Start > h.End {
			h.Start, h.End = h.End, h.Start
		}
		// 1-based to 0-based
		if h.Start > 0 {
			h.Start--
			h.End--
		}

		hits = append(hits, h)
	}
	return hits, nil
}
