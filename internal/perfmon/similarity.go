// Package perfmon owns the lifecycle of external monitoring collections:
// discovery, similarity-scored reuse decisions, provisioning and cleanup.
package perfmon

import (
	"sort"
	"strings"
)

// NormalizeCounters canonicalizes a counter list into a sorted, deduplicated
// set: trimmed, lowercased (counter paths are case-insensitive on the
// originating platform), empties dropped.
func NormalizeCounters(counters []string) []string {
	seen := make(map[string]bool, len(counters))
	out := make([]string, 0, len(counters))
	for _, c := range counters {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Similarity computes the Jaccard index |A ∩ B| / |A ∪ B| over two counter
// lists, treating them as sets. Two empty sets score 0: an empty collection
// matches nothing, it is not a perfect match for an empty wish list.
func Similarity(desired, existing []string) float64 {
	setA := toSet(desired)
	setB := toSet(existing)

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for item := range setA {
		if setB[item] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			set[item] = true
		}
	}
	return set
}
