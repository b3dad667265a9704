// Package dental implements dental-procedure detection and chart construction
// for the VetScribe artifact pipeline.
//
// [MentionsDental] is the keyword gate that decides whether the dental-chart
// stage is offered for a SOAP note. [BuildChart] turns a per-tooth findings
// map (produced by the generation collaborator) into a complete chart with
// condition counts and prioritised recommendations.
package dental

import "strings"

// keywords is the fixed set of terms that unlock the dental-chart stage.
// Matching is case-insensitive substring containment; multi-word entries
// match across word boundaries.
var keywords = []string{
	"cohat", "dental", "teeth", "tooth", "periodontal", "gingivitis",
	"tartar", "plaque", "extraction", "oral", "gums", "calculus",
	"dental cleaning", "oral exam", "dental disease", "periodontitis",
}

// MentionsDental reports whether text contains any dental keyword.
//
// The result must be recomputed whenever the source text changes — editing a
// SOAP note can both introduce and remove qualifying keywords — so callers
// must not cache it across edits.
func MentionsDental(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
