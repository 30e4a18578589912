package blast

import "strings"

// bindingTm is the melting temperature above which an off-target hit is
// considered likely to anneal
const bindingTm = 40.0

// Binds returns whether a primer is likely to anneal at the hit despite its mismatches
//
// source: http://depts.washington.edu/bakerpg/primertemp/
//
// The equation used for the melting temperature is:
// Tm = 81.5 + 0.41(%GC) - 675/N - % mismatch, where N = total number of bases.
func Binds(h Hit) bool {
	seq := strings.ToLower(h.Seq)
	n := float64(len(seq))
	if n == 0 {
		return false
	}

	gc := float64(strings.Count(seq, "g")+strings.Count(seq, "c")) / n * 100
	mismatch := float64(h.Mismatch) / n * 100
	tm := 81.5 + 0.41*gc - 675/n - mismatch

	return tm > bindingTm
}
