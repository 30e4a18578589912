// Package fasta reads and writes FASTA records.
package fasta

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Record is a single FASTA entry
type Record struct {
	// ID is the first word of the header line
	ID string

	// Description is the full header line without the ">"
	Description string

	// Seq is the upper-case sequence
	Seq string
}

// unwanted matches anything but nucleotide codes
var unwanted = regexp.MustCompile(`(?i)[^acgtnurykmswbdhv]`)

// String returns the record in FASTA format
func (r Record) String() string {
	header := r.Description
	if header == "" {
		header = r.ID
	}
	return fmt.Sprintf(">%s\n%s\n", header, r.Seq)
}

// Parse reads every record out of contents
func Parse(contents string) (records []Record, err error) {
	lines := strings.Split(strings.ReplaceAll(contents, "\r\n", "\n"), "\n")

	var headerIndices []int
	for i, line := range lines {
		if strings.HasPrefix(line, ">") {
			headerIndices = append(headerIndices, i)
		}
	}

	for i, headerIndex := range headerIndices {
		nextLine := len(lines)
		if i < len(headerIndices)-1 {
			nextLine = headerIndices[i+1]
		}

		desc := strings.TrimSpace(lines[headerIndex][1:])
		id := desc
		if fields := strings.Fields(desc); len(fields) > 0 {
			id = fields[0]
		}

		seq := strings.Join(lines[headerIndex+1:nextLine], "")
		seq = strings.ToUpper(unwanted.ReplaceAllString(seq, ""))

		records = append(records, Record{ID: id, Description: desc, Seq: seq})
	}

	if len(records) < 1 {
		return nil, fmt.Errorf("failed to parse a FASTA record")
	}

	return records, nil
}

// ParseOne returns the first record in contents. A bare sequence without
// a header is returned as a record named id
func ParseOne(contents, id string) (Record, error) {
	contents = strings.TrimSpace(contents)
	if contents == "" {
		return Record{}, fmt.Errorf("no sequence provided")
	}
	if !strings.HasPrefix(contents, ">") {
		contents = fmt.Sprintf(">%s\n%s", id, contents)
	}

	records, err := Parse(contents)
	if err != nil {
		return Record{}, err
	}
	if records[0].Seq == "" {
		return Record{}, fmt.Errorf("no sequence in record %s", records[0].ID)
	}
	return records[0], nil
}

// Read returns the records in the file at path
func Read(path string) ([]Record, error) {
	dat, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %v", err)
	}

	records, err := Parse(string(dat))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %v", path, err)
	}
	return records, nil
}

// Write writes records to path
func Write(path string, records ...Record) error {
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.String())
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
