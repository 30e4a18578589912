package blast

import (
	"reflect"
	"testing"
)

func TestHits(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   []string
	}{
		{
			"one hit",
			hitXML,
			[]string{"NM_000001"},
		},
		{
			"repeats removed",
			`<BlastOutput><Hit><Hit_accession>B</Hit_accession></Hit><Hit><Hit_accession>A</Hit_accession></Hit><Hit><Hit_accession>B</Hit_accession></Hit></BlastOutput>`,
			[]string{"B", "A"},
		},
		{
			"no hits",
			`<BlastOutput><Iteration_hits></Iteration_hits></BlastOutput>`,
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Hits(tt.stdout)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Hits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTabularHits(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		outfmt  string
		want    []Hit
		wantErr bool
	}{
		{
			"named fields with comments",
			"# BLASTN 2.7.1+\n# Fields: sacc, sstart, send, sseq, mismatch\nNM_1\t10\t29\tACGTACGTAC-GTACGTACGT\t1\nNM_2\t50\t31\tTTTTTTTTTTTTTTTTTTTT\t0\n",
			"7 sacc sstart send sseq mismatch",
			[]Hit{
				{Accession: "NM_1", Start: 9, End: 28, Seq: "ACGTACGTACGTACGTACGT", Mismatch: 1},
				{Accession: "NM_2", Start: 30, End: 49, Seq: "TTTTTTTTTTTTTTTTTTTT", Mismatch: 0},
			},
			false,
		},
		{
			"standard columns",
			"q\tgi|1|ref|NM_3|\t100.0\t20\t2\t0\t1\t20\t5\t24\t0.1\t40\n",
			"6",
			[]Hit{{Accession: "gi|1|ref|NM_3|", Start: 4, End: 23, Mismatch: 2}},
			false,
		},
		{
			"csv",
			"NM_4,1,20\n",
			"10 sacc sstart send",
			[]Hit{{Accession: "NM_4", Start: 0, End: 19}},
			false,
		},
		{
			"not tabular",
			"",
			"5",
			nil,
			true,
		},
		{
			"no subject column",
			"",
			"6 qseqid evalue",
			nil,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TabularHits(tt.stdout, tt.outfmt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TabularHits() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TabularHits() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
