package detector

import (
	"cmp"
	"slices"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// GroupByASN partitions findings by origin. Groups come out in ascending
// origin order; within a group the input order is kept. The input slice is
// not modified.
func GroupByASN(findings []models.PotentialHijack) []models.ASNGroup {
	sorted := slices.Clone(findings)
	slices.SortStableFunc(sorted, func(a, b models.PotentialHijack) int {
		return cmp.Compare(a.Origin, b.Origin)
	})

	var groups []models.ASNGroup
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Origin == sorted[i].Origin {
			j++
		}
		groups = append(groups, models.ASNGroup{
			Origin:   sorted[i].Origin,
			Findings: sorted[i:j:j],
		})
		i = j
	}
	return groups
}
