package dental

import "strings"

// Urgency grades a [Recommendation].
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ConditionCounts summarises how many findings fall into each condition class.
type ConditionCounts struct {
	Normal      int `json:"normal"`
	Gingivitis  int `json:"gingivitis"`
	Calculus    int `json:"calculus"`
	Periodontal int `json:"periodontal"`
	Fracture    int `json:"fracture"`
	Missing     int `json:"missing"`
	Other       int `json:"other"`
}

// Recommendation is a prioritised treatment suggestion derived from the
// condition summary.
type Recommendation struct {
	Type        string  `json:"type"`
	Count       int     `json:"count"`
	Description string  `json:"description"`
	Urgency     Urgency `json:"urgency"`
}

// Chart is the structured dental-chart artifact stored on an appointment.
// Findings maps a Triadan tooth number (or "general") to a condition string.
type Chart struct {
	Species         string              `json:"species"`
	TeethLayout     map[string][]string `json:"teeth_layout"`
	Findings        map[string]string   `json:"findings"`
	Conditions      ConditionCounts     `json:"conditions"`
	Recommendations []Recommendation    `json:"recommendations"`
	TotalTeeth      int                 `json:"total_teeth"`
	AffectedTeeth   int                 `json:"affected_teeth"`
}

// teethLayouts holds the Triadan dental formulas per supported species.
// Unknown species fall back to the canine layout.
var teethLayouts = map[string]map[string][]string{
	"dog": {
		"upper_right": {"101", "102", "103", "104", "105", "106", "107", "108", "109", "110"},
		"upper_left":  {"201", "202", "203", "204", "205", "206", "207", "208", "209", "210", "211"},
		"lower_left":  {"301", "302", "303", "304", "305", "306", "307", "308", "309", "310", "311"},
		"lower_right": {"401", "402", "403", "404", "405", "406", "407", "408", "409", "410", "411"},
	},
	"cat": {
		"upper_right": {"101", "102", "103", "104", "105", "106", "107", "108"},
		"upper_left":  {"201", "202", "203", "204", "205", "206", "207", "208"},
		"lower_left":  {"301", "302", "303", "304", "305", "306", "307"},
		"lower_right": {"401", "402", "403", "404", "405", "406", "407"},
	},
}

// BuildChart assembles a [Chart] for the given species from a findings map.
// An empty findings map is a valid "no pathology" result and yields a chart
// with a single low-urgency good-oral-health recommendation.
func BuildChart(species string, findings map[string]string) *Chart {
	layout, ok := teethLayouts[strings.ToLower(species)]
	if !ok {
		layout = teethLayouts["dog"]
	}
	if findings == nil {
		findings = map[string]string{}
	}

	counts := countConditions(findings)

	total := 0
	for _, quadrant := range layout {
		total += len(quadrant)
	}

	return &Chart{
		Species:         species,
		TeethLayout:     layout,
		Findings:        findings,
		Conditions:      counts,
		Recommendations: recommend(counts),
		TotalTeeth:      total,
		AffectedTeeth:   len(findings),
	}
}

// countConditions classifies each finding into a condition bucket. The
// classification mirrors the free-text conditions the generation service
// emits, so synonyms ("tartar", "broken", "pulled") land in the right bucket.
func countConditions(findings map[string]string) ConditionCounts {
	var c ConditionCounts
	for _, condition := range findings {
		lower := strings.ToLower(condition)
		switch {
		case containsAny(lower, "gingivitis", "inflamed", "red gums"):
			c.Gingivitis++
		case containsAny(lower, "calculus", "tartar", "scale"):
			c.Calculus++
		case containsAny(lower, "pocket", "periodontal"):
			c.Periodontal++
		case containsAny(lower, "fracture", "broken", "chipped"):
			c.Fracture++
		case containsAny(lower, "missing", "extracted", "pulled"):
			c.Missing++
		case lower == "normal":
			c.Normal++
		default:
			c.Other++
		}
	}
	return c
}

// recommend derives prioritised recommendations from condition counts.
// With no pathology at all it returns a single good-oral-health entry so the
// chart is never silently empty.
func recommend(c ConditionCounts) []Recommendation {
	var recs []Recommendation

	if c.Gingivitis > 0 {
		recs = append(recs, Recommendation{
			Type:        "Gingivitis Management",
			Count:       c.Gingivitis,
			Description: "Professional cleaning and improved home care recommended",
			Urgency:     UrgencyMedium,
		})
	}
	if c.Calculus > 0 {
		recs = append(recs, Recommendation{
			Type:        "Calculus Removal",
			Count:       c.Calculus,
			Description: "Professional scaling required",
			Urgency:     UrgencyMedium,
		})
	}
	if c.Periodontal > 0 {
		recs = append(recs, Recommendation{
			Type:        "Periodontal Therapy",
			Count:       c.Periodontal,
			Description: "May require root planing or surgical treatment",
			Urgency:     UrgencyHigh,
		})
	}
	if c.Fracture > 0 {
		recs = append(recs, Recommendation{
			Type:        "Fracture Repair",
			Count:       c.Fracture,
			Description: "Evaluate for extraction or restoration",
			Urgency:     UrgencyHigh,
		})
	}

	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Type:        "Good Oral Health",
			Count:       0,
			Description: "No significant dental pathology detected - Continue current home care routine",
			Urgency:     UrgencyLow,
		})
	}
	return recs
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
