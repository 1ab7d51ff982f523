package analyze

import "strings"

// Score weights. The scoring is a deliberate heuristic: predictable,
// explainable, and cheap.
const (
	diffWeight   = 40
	titleWeight  = 20
	navWeight    = 25
	lengthWeight = 15

	diffSampleBytes   = 10 * 1024
	navChangeFraction = 0.20
	lengthDeltaRatio  = 0.30
	// A page growing from empty is significant once it carries real content.
	emptyBaselineFloor = 1000
)

// DriftScore compares baseline vs current HTML for one page and returns an
// integer 0-100. Components: structural diff (40), title change (20), nav
// change (25), length delta (15).
func DriftScore(baseline, current string) int {
	if baseline == current {
		return 0
	}
	score := 0.0

	// Diff component. Wildly different lengths short-circuit the sampling.
	lb, lc := len(baseline), len(current)
	minLen, maxLen := lb, lc
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}
	if maxLen > 0 {
		ratio := float64(minLen) / float64(maxLen)
		if ratio < 0.5 {
			score += (1 - ratio) * diffWeight
		} else {
			sim := quickRatio(sample(baseline), sample(current))
			score += (1 - sim) * diffWeight
		}
	}

	// Title change.
	if strings.TrimSpace(Title(baseline)) != strings.TrimSpace(Title(current)) {
		score += titleWeight
	}

	// Nav change: symmetric difference above 20% of the larger set.
	oldNav := toSet(NavLinks(baseline))
	newNav := toSet(NavLinks(current))
	if larger := max(len(oldNav), len(newNav)); larger > 0 {
		if float64(symmetricDiff(oldNav, newNav)) > navChangeFraction*float64(larger) {
			score += navWeight
		}
	}

	// Length delta.
	if lb == 0 {
		if lc > emptyBaselineFloor {
			score += lengthWeight
		}
	} else if abs(lc-lb) > int(lengthDeltaRatio*float64(lb)) {
		score += lengthWeight
	}

	n := int(score + 0.5)
	if n > 100 {
		n = 100
	}
	return n
}

func sample(s string) string {
	if len(s) > diffSampleBytes {
		return s[:diffSampleBytes]
	}
	return s
}

// quickRatio is a deterministic O(n) similarity over byte-frequency
// multisets: 2*matches / total length. 1.0 means indistinguishable at the
// frequency level, 0.0 means disjoint.
func quickRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	var fa, fb [256]int
	for i := 0; i < len(a); i++ {
		fa[a[i]]++
	}
	for i := 0; i < len(b); i++ {
		fb[b[i]]++
	}
	matches := 0
	for i := 0; i < 256; i++ {
		if fa[i] < fb[i] {
			matches += fa[i]
		} else {
			matches += fb[i]
		}
	}
	return 2 * float64(matches) / float64(len(a)+len(b))
}

func toSet(urls []string) map[string]bool {
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}
	return set
}

func symmetricDiff(a, b map[string]bool) int {
	n := 0
	for u := range a {
		if !b[u] {
			n++
		}
	}
	for u := range b {
		if !a[u] {
			n++
		}
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// BatchVerdict aggregates per-page drift into a project-level decision.
type BatchVerdict struct {
	Significant bool
	Score       int
	Reason      string // bulk_change, cumulative_drift, below_threshold
}

// Aggregate applies the two-step batch rule: a change ratio above the bulk
// threshold is significant outright; otherwise the mean per-page score must
// clear the significance threshold.
func Aggregate(scores []int, changedCount, totalPages int, bulkThresholdPercent float64, significanceThreshold int) BatchVerdict {
	if totalPages > 0 && float64(changedCount)/float64(totalPages)*100 > bulkThresholdPercent {
		return BatchVerdict{Significant: true, Score: 100, Reason: "bulk_change"}
	}
	if len(scores) == 0 {
		return BatchVerdict{Reason: "below_threshold"}
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	mean := sum / len(scores)
	if mean >= significanceThreshold {
		return BatchVerdict{Significant: true, Score: mean, Reason: "cumulative_drift"}
	}
	return BatchVerdict{Score: mean, Reason: "below_threshold"}
}
