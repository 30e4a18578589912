package gfserver

import (
	"strconv"
	"strings"
)

// Amplicon is a product predicted by gfServer pcr
type Amplicon struct {
	// Name of the reference sequence
	Name string `json:"name" yaml:"name"`

	// Start and End of the product on the reference
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`

	// Strand is "+" or "-"
	Strand string `json:"strand,omitempty" yaml:"strand,omitempty"`
}

// Response is the output of a pcr query
type Response struct {
	// Stdout is the raw output
	Stdout string

	// Amplicons has one entry per non-empty line
	Amplicons []Amplicon
}

// ParseResponse reads each non-empty line of stdout as an amplicon
func ParseResponse(stdout string) *Response {
	r := &Response{Stdout: stdout}
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			r.Amplicons = append(r.Amplicons, ParseAmplicon(line))
		}
	}
	return r
}

// Count is the number of amplicons
func (r *Response) Count() int {
	return len(r.Amplicons)
}

// Specific is true if the pair amplifies exactly one product
func (r *Response) Specific() bool {
	return r.Count() == 1
}

// ParseAmplicon reads a single line of pcr output. It accepts gfServer's
// "name start end strand" lines and isPcr's ">name:start+end size fwd rev" headers.
// Fields that can't be read are left empty
func ParseAmplicon(line string) Amplicon {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Amplicon{}
	}

	if strings.HasPrefix(fields[0], ">") {
		loc := strings.TrimPrefix(fields[0], ">")
		i := strings.LastIndex(loc, ":")
		if i < 0 {
			return Amplicon{Name: loc}
		}

		a := Amplicon{Name: loc[:i]}
		span := loc[i+1:]
		sep := strings.IndexAny(span, "+-")
		if sep < 0 {
			return a
		}
		a.Start, _ = strconv.Atoi(span[:sep])
		a.End, _ = strconv.Atoi(span[sep+1:])
		a.Strand = string(span[sep])
		return a
	}

	a := Amplicon{Name: fields[0]}
	if len(fields) > 2 {
		a.Start, _ = strconv.Atoi(fields[1])
		a.End, _ = strconv.Atoi(fields[2])
	}
	if len(fields) > 3 {
		a.Strand = fields[3]
	}
	return a
}
