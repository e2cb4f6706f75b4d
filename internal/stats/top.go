package stats

import (
	"sort"
)

// Miss is a word the recognizer got wrong, with its most common wrong pick.
type Miss struct {
	Word    string
	Count   int
	Instead string
}

// TopMisses returns the N words most often not ranked first.
func TopMisses(samples []Sample, n int) []Miss {
	if n <= 0 || len(samples) == 0 {
		return nil
	}
	counts := map[string]int{}
	picks := map[string]map[string]int{}
	for _, s := range samples {
		first, ok := s.Got.First()
		if ok && first.Word == s.Want {
			continue
		}
		counts[s.Want]++
		if !ok {
			continue
		}
		if picks[s.Want] == nil {
			picks[s.Want] = map[string]int{}
		}
		picks[s.Want][first.Word]++
	}
	items := make([]Miss, 0, len(counts))
	for word, count := range counts {
		items = append(items, Miss{Word: word, Count: count, Instead: mostCommon(picks[word])})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Word < items[j].Word
		}
		return items[i].Count > items[j].Count
	})
	if n > len(items) {
		n = len(items)
	}
	return items[:n]
}

func mostCommon(counts map[string]int) string {
	best, bestN := "", 0
	for w, c := range counts {
		if c > bestN || (c == bestN && w < best) {
			best, bestN = w, c
		}
	}
	return best
}
