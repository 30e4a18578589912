package blast

import "sort"

// OffTargets returns the accessions of hits where a primer would likely anneal.
//
// Hits shorter than minLength are dropped, as are hits that are completely
// contained in another hit on the same subject: the larger hit covers the
// same binding site. Accessions are returned sorted and without repeats
func OffTargets(hits []Hit, minLength int) []string {
	hits = filter(hits, minLength)

	seen := make(map[string]bool)
	var accessions []string
	for _, h := range hits {
		if seen[h.Accession] || !Binds(h) {
			continue
		}
		seen[h.Accession] = true
		accessions = append(accessions, h.Accession)
	}
	return accessions
}

// filter removes short hits and those contained in another hit on the same subject
func filter(hits []Hit, minLength int) []Hit {
	sorted := append([]Hit(nil), hits...)

	// sort hits by subject then start index.
	// if they're the same, put the larger one first
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Accession != sorted[j].Accession {
			return sorted[i].Accession < sorted[j].Accession
		}
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Length() > sorted[j].Length()
	})

	// only include those that aren't encompassed in the one before it
	var proper []Hit
	for _, h := range sorted {
		last := len(proper) - 1
		if last >= 0 && proper[last].Accession == h.Accession && h.End <= proper[last].End {
			continue
		}
		proper = append(proper, h)
	}

	var largeEnough []Hit
	for _, h := range proper {
		if h.Length() >= minLength {
			largeEnough = append(largeEnough, h)
		}
	}
	return largeEnough
}
