package tool

import (
	"fmt"
	"sort"
	"strings"
)

const (
	maxSuggestions      = 3
	maxListedNames      = 10
	suggestionThreshold = 0.6
	substringBoost      = 0.2
)

// ToolNotFoundError reports an unknown tool name along with close matches
// from the known catalog, so callers can surface a "did you mean" hint.
type ToolNotFoundError struct {
	Name        string
	Known       []string
	Suggestions []string
}

// NewToolNotFoundError computes suggestions for the requested name from
// the full list of known tool names.
func NewToolNotFoundError(name string, known []string) *ToolNotFoundError {
	return &ToolNotFoundError{
		Name:        name,
		Known:       known,
		Suggestions: suggestNames(name, known),
	}
}

func (e *ToolNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("tool %q not found; did you mean %s?", e.Name, strings.Join(e.Suggestions, ", "))
	}
	listed := e.Known
	if len(listed) > maxListedNames {
		listed = listed[:maxListedNames]
	}
	if len(listed) == 0 {
		return fmt.Sprintf("tool %q not found; no tools are available", e.Name)
	}
	return fmt.Sprintf("tool %q not found; known tools: %s", e.Name, strings.Join(listed, ", "))
}

// suggestNames scores every known name against the requested one and
// keeps the closest matches above the threshold.
func suggestNames(name string, known []string) []string {
	type scored struct {
		name  string
		score float64
	}

	candidates := make([]scored, 0, len(known))
	for _, candidate := range known {
		score := similarity(name, candidate)
		if score >= suggestionThreshold {
			candidates = append(candidates, scored{name: candidate, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})

	out := make([]string, 0, maxSuggestions)
	for _, candidate := range candidates {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, candidate.name)
	}
	return out
}

// similarity is a length-normalized common-subsequence ratio in [0,1],
// boosted when one name contains the other.
func similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	ratio := 2 * float64(commonSubsequence(a, b)) / float64(len(a)+len(b))
	if strings.Contains(a, b) || strings.Contains(b, a) {
		ratio += substringBoost
		if ratio > 1 {
			ratio = 1
		}
	}
	return ratio
}

func commonSubsequence(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
