// ABOUTME: Fuzzy matching for mistyped command names.
// ABOUTME: Turns unknown commands into errors with did-you-mean hints.

package main

import (
	"fmt"
	"sort"
	"strings"
)

func unknownCommandError(command string, candidates []string) error {
	msg := fmt.Sprintf("unknown command %q", command)
	hints := []string{}
	suggestions := rankSuggestions(command, candidates, 3)
	if len(suggestions) == 1 {
		hints = append(hints, fmt.Sprintf("did you mean %q?", suggestions[0]))
	} else if len(suggestions) > 1 {
		hints = append(hints, fmt.Sprintf("did you mean one of: %s?", formatQuotedList(suggestions)))
	}
	return newCLIError(msg, "verbactl --help", hints...)
}

func rankSuggestions(needle string, candidates []string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return nil
	}
	seen := make(map[string]struct{}, len(candidates))
	type scored struct {
		value    string
		distance int
		prefix   bool
		contains bool
	}
	var scoredValues []scored
	for _, candidate := range candidates {
		value := strings.TrimSpace(candidate)
		if value == "" {
			continue
		}
		lower := strings.ToLower(value)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		prefix := strings.HasPrefix(lower, needle) || strings.HasPrefix(needle, lower)
		contains := strings.Contains(lower, needle)
		distance := levenshteinDistance(needle, lower)
		if !prefix && !contains && distance > 3 {
			continue
		}
		scoredValues = append(scoredValues, scored{
			value:    value,
			distance: distance,
			prefix:   prefix,
			contains: contains,
		})
	}
	if len(scoredValues) == 0 {
		return nil
	}
	sort.Slice(scoredValues, func(i, j int) bool {
		left, right := scoredValues[i], scoredValues[j]
		if left.prefix != right.prefix {
			return left.prefix
		}
		if left.contains != right.contains {
			return left.contains
		}
		if left.distance != right.distance {
			return left.distance < right.distance
		}
		return left.value < right.value
	})
	if len(scoredValues) > limit {
		scoredValues = scoredValues[:limit]
	}
	out := make([]string, len(scoredValues))
	for i, value := range scoredValues {
		out[i] = value.value
	}
	return out
}

func formatQuotedList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		quoted = append(quoted, fmt.Sprintf("%q", value))
	}
	return strings.Join(quoted, ", ")
}

func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	aRunes := []rune(a)
	bRunes := []rune(b)
	if len(aRunes) == 0 {
		return len(bRunes)
	}
	if len(bRunes) == 0 {
		return len(aRunes)
	}
	prev := make([]int, len(bRunes)+1)
	curr := make([]int, len(bRunes)+1)
	for j := 0; j <= len(bRunes); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(aRunes); i++ {
		curr[0] = i
		for j := 1; j <= len(bRunes); j++ {
			cost := 0
			if aRunes[i-1] != bRunes[j-1] {
				cost = 1
			}
			deletion := prev[j] + 1
			insertion := curr[j-1] + 1
			substitution := prev[j-1] + cost
			curr[j] = minInt(deletion, insertion, substitution)
		}
		prev, curr = curr, prev
	}
	return prev[len(bRunes)]
}

func minInt(values ...int) int {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, value := range values[1:] {
		if value < out {
			out = value
		}
	}
	return out
}
