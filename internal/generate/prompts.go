package generate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// System prompts shared by every note-generation backend. The guardrails are
// deliberately strict: scribe output must never contain information that was
// not in the transcript.
const (
	SoapSystemPrompt = "You are a veterinary scribe. ONLY use information explicitly present " +
		"in the input. Never invent values. If a section lacks data, write 'Not documented'."

	SummarySystemPrompt = "You produce factual, readable summaries without adding new information."

	DentalSystemPrompt = "You are a veterinary dental specialist. Your CRITICAL mission is to " +
		"extract EVERY SINGLE dental finding from notes - even minor mentions. NEVER return " +
		"empty findings if ANY dental terms are mentioned. Be aggressive in extraction - it's " +
		"better to over-extract than miss something that could affect patient care."
)

// Generation limits per artifact.
const (
	SoapMaxTokens    = 1400
	SummaryMaxTokens = 700
	DentalMaxTokens  = 1000
)

// SoapPrompt renders the user prompt for SOAP note generation. The transcript
// is passed verbatim; the signalment block fills gaps with "Unknown" so the
// model has nothing to infer.
func SoapPrompt(transcript string, patient PatientContext, visitType string, tmpl SoapTemplate) string {
	label := tmpl.Label
	if label == "" {
		label = "SOAP"
	}
	if visitType == "" {
		visitType = "General"
	}

	signalment := fmt.Sprintf(`Patient: %s
Species: %s
Breed: %s
Age: %s
Sex: %s
Weight: %s
Owner: %s
Visit Type: %s

Appointment Notes (verbatim transcript):
%s`,
		orUnknown(patient.Name), orUnknown(patient.Species), orUnknown(patient.Breed),
		orUnknown(patient.Age), orUnknown(patient.Sex), orUnknown(patient.Weight),
		orUnknown(patient.Owner), visitType, transcript)

	return fmt.Sprintf(`Organize the provided appointment notes into strict %s format.

CRITICAL RULES:
- SUBJECTIVE: client-reported history/symptoms only
- OBJECTIVE: exam findings/vitals actually observed
- ASSESSMENT: diagnoses/impressions actually stated
- PLAN: treatments/meds/recommendations actually given
- Do not add clinical knowledge, ranges, or assumptions.
- If missing, write "Not documented".

Input:
%s

Output a complete %s note:`, label, signalment, label)
}

// SummaryPrompt renders the user prompt for the client-facing visit summary.
func SummaryPrompt(transcript string) string {
	return fmt.Sprintf(`Create a short client-friendly visit summary (grade 6 reading level) using ONLY facts present in the transcript below.
- Avoid medical jargon where possible.
- No invented facts or dosing.
- If an item isn't stated, don't add it.

Transcript:
%s

Now write a short, clear summary for the pet owner:`, transcript)
}

// DentalPrompt renders the extraction prompt for dental analysis. It asks for
// JSON output so the response can be parsed by [ParseDentalAnalysis].
func DentalPrompt(text, species string) string {
	if species == "" {
		species = "dog"
	}
	return fmt.Sprintf(`CRITICAL INSTRUCTION: You are analyzing veterinary notes and MUST extract ALL dental findings mentioned. Do NOT miss anything!

TEXT TO ANALYZE (species: %s):
%q

AGGRESSIVE EXTRACTION RULES:
1. Look for ANY mention of teeth, gums, mouth, dental conditions
2. Extract EVERY single dental finding, even minor ones
3. If you see words like: tartar, calculus, gingivitis, red gums, inflamed, broken, fractured, missing, loose, worn, decay, cleaning, scale, plaque, periodontal, pocket, abscess, crown, root - EXTRACT IT!
4. Don't be conservative - extract everything that could be dental-related

TOOTH MAPPING:
- Upper right quadrant: 101-110
- Upper left quadrant: 201-211
- Lower left quadrant: 301-311
- Lower right quadrant: 401-411
- If no specific tooth mentioned, use "general" or map to likely teeth (premolars 105-108, 205-208, 305-308, 405-408 for "back teeth", canines 104,204,304,404 for "canine teeth", etc.)

MANDATORY MAPPINGS - If you see these words, YOU MUST extract them:
- "tartar" or "calculus" → calculus
- "gingivitis" or "red gums" or "inflamed gums" → gingivitis
- "broken" or "fractured" or "chipped" → fracture
- "missing" or "extracted" or "pulled" → missing
- "loose" → mobility
- "worn" → attrition
- "pocket" → periodontal_disease
- "cleaning" or "scale" → calculus (implies calculus present)
- "decay" or "cavity" → caries

Return JSON - DO NOT return empty findings unless there are truly NO dental mentions:
{
  "findings": {
    "tooth_number_or_general": "condition"
  },
  "summary": "What you found",
  "raw_extraction": "Exact phrases that led to findings"
}

EXTRACT EVERYTHING - Missing findings could harm the patient!`, species, text)
}

// ParseDentalAnalysis decodes the model's JSON reply into a [DentalAnalysis].
// Markdown code fences around the JSON are tolerated since some models wrap
// structured output regardless of instructions. Unparseable content yields
// [ErrMalformedResponse].
func ParseDentalAnalysis(raw string) (*DentalAnalysis, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var analysis DentalAnalysis
	if err := json.Unmarshal([]byte(trimmed), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if analysis.Findings == nil {
		analysis.Findings = map[string]string{}
	}
	return &analysis, nil
}

// orUnknown substitutes "Unknown" for empty signalment fields.
func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
