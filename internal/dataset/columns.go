package dataset

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

type SimilarColumns struct {
	Left       string
	Right      string
	Similarity float64
}

// FindSimilarColumns returns every pair of columns whose case-insensitive
// Jaro-Winkler similarity is at least threshold, most similar first. Source
// sites tend to label the same spec slightly differently across products.
func FindSimilarColumns(columns []string, threshold float64) []SimilarColumns {
	var out []SimilarColumns
	for i := 0; i < len(columns); i++ {
		left := strings.ToLower(strings.TrimSpace(columns[i]))
		for j := i + 1; j < len(columns); j++ {
			right := strings.ToLower(strings.TrimSpace(columns[j]))
			similarity := matchr.JaroWinkler(left, right, false)
			if similarity < threshold {
				continue
			}
			out = append(out, SimilarColumns{
				Left:       columns[i],
				Right:      columns[j],
				Similarity: similarity,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}
