package generate

import (
	"errors"
	"strings"
	"testing"
)

func TestSoapPrompt(t *testing.T) {
	t.Parallel()

	patient := PatientContext{
		Name:    "Biscuit",
		Species: "dog",
		Owner:   "R. Patel",
	}
	prompt := SoapPrompt("patient presented for cough", patient, "Sick Visit", SoapTemplate{})

	for _, want := range []string{
		"Patient: Biscuit",
		"Species: dog",
		"Breed: Unknown",
		"Visit Type: Sick Visit",
		"patient presented for cough",
		"SOAP format",
		`If missing, write "Not documented"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSoapPrompt_TemplateLabel(t *testing.T) {
	t.Parallel()

	prompt := SoapPrompt("notes", PatientContext{}, "", SoapTemplate{Label: "SOAP-Dental"})
	if !strings.Contains(prompt, "strict SOAP-Dental format") {
		t.Error("template label not applied")
	}
	if !strings.Contains(prompt, "Visit Type: General") {
		t.Error("empty visit type did not default to General")
	}
}

func TestSummaryPrompt(t *testing.T) {
	t.Parallel()

	prompt := SummaryPrompt("gave first rabies vaccine")
	if !strings.Contains(prompt, "gave first rabies vaccine") {
		t.Error("prompt missing transcript")
	}
	if !strings.Contains(prompt, "grade 6 reading level") {
		t.Error("prompt missing reading-level instruction")
	}
}

func TestDentalPrompt_SpeciesDefault(t *testing.T) {
	t.Parallel()

	if !strings.Contains(DentalPrompt("text", ""), "species: dog") {
		t.Error("empty species did not default to dog")
	}
	if !strings.Contains(DentalPrompt("text", "cat"), "species: cat") {
		t.Error("species not injected")
	}
}

func TestParseDentalAnalysis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"findings":{"104":"fracture"},"summary":"fractured canine","raw_extraction":"fractured canine tooth"}`,
			want: map[string]string{"104": "fracture"},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"findings\":{\"general\":\"calculus\"},\"summary\":\"tartar\"}\n```",
			want: map[string]string{"general": "calculus"},
		},
		{
			name: "empty findings is valid",
			raw:  `{"findings":{},"summary":"no dental mentions"}`,
			want: map[string]string{},
		},
		{
			name: "nil findings normalised",
			raw:  `{"summary":"no dental mentions"}`,
			want: map[string]string{},
		},
		{
			name:    "prose instead of json",
			raw:     "I could not find any dental issues in the notes.",
			wantErr: true,
		},
		{
			name:    "truncated json",
			raw:     `{"findings":{"104":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			analysis, err := ParseDentalAnalysis(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDentalAnalysis: %v", err)
			}
			if len(analysis.Findings) != len(tt.want) {
				t.Fatalf("findings = %v, want %v", analysis.Findings, tt.want)
			}
			for k, v := range tt.want {
				if analysis.Findings[k] != v {
					t.Errorf("findings[%q] = %q, want %q", k, analysis.Findings[k], v)
				}
			}
		})
	}
}
