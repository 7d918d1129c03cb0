package models

import "strings"

// ClassifyFamily maps a model or family name onto a tracked family by
// case-insensitive substring match. "anthropic" is accepted as an alias
// for the Claude family. Names matching neither family return ok=false.
//
// Substring matching is a heuristic carried over from the upstream
// tooling: a future model whose name contains neither marker will land
// in the unclassified bucket rather than a family aggregate.
func ClassifyFamily(name string) (Family, bool) {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "claude") || strings.Contains(lower, "anthropic") {
		return FamilyClaude, true
	}
	if strings.Contains(lower, "gemini") {
		return FamilyGemini, true
	}
	return "", false
}
