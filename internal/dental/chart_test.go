package dental

import "testing"

func TestBuildChart_ConditionClassification(t *testing.T) {
	findings := map[string]string{
		"104":     "fracture",
		"105":     "calculus",
		"106":     "tartar buildup",
		"general": "gingivitis",
		"309":     "periodontal pocket",
		"410":     "missing",
		"201":     "enamel defect",
	}

	chart := BuildChart("dog", findings)

	if chart.Conditions.Fracture != 1 {
		t.Errorf("Fracture = %d, want 1", chart.Conditions.Fracture)
	}
	if chart.Conditions.Calculus != 2 {
		t.Errorf("Calculus = %d, want 2", chart.Conditions.Calculus)
	}
	if chart.Conditions.Gingivitis != 1 {
		t.Errorf("Gingivitis = %d, want 1", chart.Conditions.Gingivitis)
	}
	if chart.Conditions.Periodontal != 1 {
		t.Errorf("Periodontal = %d, want 1", chart.Conditions.Periodontal)
	}
	if chart.Conditions.Missing != 1 {
		t.Errorf("Missing = %d, want 1", chart.Conditions.Missing)
	}
	if chart.Conditions.Other != 1 {
		t.Errorf("Other = %d, want 1", chart.Conditions.Other)
	}
	if chart.AffectedTeeth != 7 {
		t.Errorf("AffectedTeeth = %d, want 7", chart.AffectedTeeth)
	}
}

func TestBuildChart_SpeciesLayouts(t *testing.T) {
	dog := BuildChart("dog", nil)
	if dog.TotalTeeth != 42 {
		t.Errorf("dog TotalTeeth = %d, want 42", dog.TotalTeeth)
	}

	cat := BuildChart("cat", nil)
	if cat.TotalTeeth != 30 {
		t.Errorf("cat TotalTeeth = %d, want 30", cat.TotalTeeth)
	}

	// Unknown species falls back to the canine formula.
	ferret := BuildChart("ferret", nil)
	if ferret.TotalTeeth != 42 {
		t.Errorf("fallback TotalTeeth = %d, want 42", ferret.TotalTeeth)
	}
	if ferret.Species != "ferret" {
		t.Errorf("Species = %q, want ferret", ferret.Species)
	}
}

func TestBuildChart_EmptyFindingsIsValid(t *testing.T) {
	chart := BuildChart("cat", map[string]string{})

	if chart.AffectedTeeth != 0 {
		t.Errorf("AffectedTeeth = %d, want 0", chart.AffectedTeeth)
	}
	if len(chart.Recommendations) != 1 {
		t.Fatalf("Recommendations = %d entries, want 1", len(chart.Recommendations))
	}
	rec := chart.Recommendations[0]
	if rec.Type != "Good Oral Health" || rec.Urgency != UrgencyLow {
		t.Errorf("got recommendation %+v, want good-oral-health/low", rec)
	}
	if chart.Findings == nil {
		t.Error("Findings should be non-nil for JSON round-tripping")
	}
}

func TestBuildChart_RecommendationUrgencies(t *testing.T) {
	chart := BuildChart("dog", map[string]string{
		"104": "fracture",
		"105": "periodontal disease",
	})

	urgencies := map[string]Urgency{}
	for _, rec := range chart.Recommendations {
		urgencies[rec.Type] = rec.Urgency
	}
	if urgencies["Fracture Repair"] != UrgencyHigh {
		t.Errorf("fracture urgency = %q, want high", urgencies["Fracture Repair"])
	}
	if urgencies["Periodontal Therapy"] != UrgencyHigh {
		t.Errorf("periodontal urgency = %q, want high", urgencies["Periodontal Therapy"])
	}
}
