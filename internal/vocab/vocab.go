// Package vocab normalises veterinary terminology in machine transcripts
// using Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity.
//
// General-purpose speech-to-text models reliably garble clinical vocabulary:
// "COHAT" comes back as "co hat", "Convenia" as "konvenia", "gingivitis" as
// "ginger vitis". The normaliser aligns such tokens with a known term list in
// two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each window of the input and for each known term. A term whose codes
//     overlap the window's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity wins, provided its score exceeds the
//     phonetic threshold. When no phonetic candidate exists, a pure
//     Jaro-Winkler pass applies with a stricter fuzzy threshold.
//
// Multi-word terms ("cranial cruciate ligament") are supported via n-gram
// windows; the longest matching window wins at each position.
package vocab

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// Tokens shorter than this are never corrected on their own; phonetic
	// codes of very short words collide with half the dictionary.
	minTokenLen = 4
)

// DefaultTerms is the built-in veterinary lexicon: terms that show up in
// clinical dictation and that general transcription models mangle often
// enough to matter.
var DefaultTerms = []string{
	"cohat",
	"periodontal",
	"periodontitis",
	"gingivitis",
	"stomatitis",
	"calculus",
	"tartar",
	"plaque",
	"prophylaxis",
	"malocclusion",
	"furcation",
	"carnassial",
	"tooth resorption",
	"enamel hypoplasia",
	"dental radiographs",
	"triadan",
	"pyometra",
	"parvovirus",
	"bordetella",
	"leptospirosis",
	"giardia",
	"cranial cruciate ligament",
	"patellar luxation",
	"otitis externa",
	"meloxicam",
	"gabapentin",
	"clavamox",
	"convenia",
	"apoquel",
	"cytopoint",
	"bravecto",
}

// Correction records one normalised span.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// term is a known vocabulary entry with precomputed phonetic codes.
type term struct {
	text   string
	tokens []string
	joined string
	codes  map[string]struct{}
}

// Option is a functional option for configuring a [Normalizer].
type Option func(*Normalizer)

// WithExtraTerms appends practice-specific terms to the default lexicon.
func WithExtraTerms(terms ...string) Option {
	return func(n *Normalizer) {
		n.extra = append(n.extra, terms...)
	}
}

// WithTerms replaces the default lexicon entirely.
func WithTerms(terms ...string) Option {
	return func(n *Normalizer) {
		n.base = terms
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		n.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		n.fuzzyThreshold = threshold
	}
}

// Normalizer aligns transcript tokens with a known term list. It is
// read-only after construction and safe for concurrent use.
type Normalizer struct {
	base  []string
	extra []string

	phoneticThreshold float64
	fuzzyThreshold    float64

	terms    []term
	maxWords int
}

// New returns a [Normalizer] over [DefaultTerms] plus any configured extras.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		base:              DefaultTerms,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(n)
	}

	for _, t := range append(append([]string{}, n.base...), n.extra...) {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		n.terms = append(n.terms, term{
			text:   lower,
			tokens: tokens,
			joined: strings.Join(tokens, ""),
			codes:  codesForTokens(tokens),
		})
		if len(tokens) > n.maxWords {
			n.maxWords = len(tokens)
		}
	}
	return n
}

// Normalize rewrites recognised spans of text to their canonical terms and
// returns the corrected text plus the list of corrections applied. Text with
// no recognised spans is returned unchanged with a nil correction list.
func (n *Normalizer) Normalize(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(n.terms) == 0 {
		return text, nil
	}

	var (
		output      []string
		corrections []Correction
	)

	i := 0
	for i < len(tokens) {
		maxN := n.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for width := maxN; width >= 1; width-- {
			window := strings.Join(tokens[i:i+width], " ")
			corrected, conf, ok := n.match(window)
			if !ok {
				continue
			}

			output = append(output, strings.Fields(corrected)...)
			if !strings.EqualFold(window, corrected) {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  corrected,
					Confidence: conf,
				})
			}
			i += width
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// match tests one window against the term list. It returns the winning term,
// its score, and whether any term cleared its threshold.
func (n *Normalizer) match(window string) (string, float64, bool) {
	windowLower := strings.ToLower(stripPunct(window))
	windowTokens := strings.Fields(windowLower)
	if len(windowTokens) == 0 {
		return window, 0, false
	}
	if len(windowTokens) == 1 && len(windowTokens[0]) < minTokenLen {
		return window, 0, false
	}

	windowCodes := codesForTokens(windowTokens)
	windowJoined := strings.Join(windowTokens, "")

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)

	for _, t := range n.terms {
		if len(windowTokens) != len(t.tokens) {
			// A split or merged term ("co hat" for "cohat"). Phonetic
			// overlap of a single sub-token says nothing about the window
			// as a whole, so only a strong concatenated-string match with
			// an agreeing first letter qualifies.
			if windowJoined[0] != t.joined[0] {
				continue
			}
			score := matchr.JaroWinkler(windowJoined, t.joined, false)
			if score >= n.fuzzyThreshold && score > bestScore && !bestPhonetic {
				best, bestScore = t.text, score
			}
			continue
		}

		phonetic := codesOverlap(windowCodes, t.codes)
		score := matchr.JaroWinkler(windowLower, t.text, false)

		switch {
		case phonetic && score >= n.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = t.text, score, true
			}
		case !phonetic && !bestPhonetic:
			if score >= n.fuzzyThreshold && score > bestScore {
				best, bestScore = t.text, score
			}
		}
	}

	if best == "" {
		return window, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// stripPunct removes leading and trailing punctuation from every token so
// "gingivitis," still matches "gingivitis".
func stripPunct(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.Trim(f, ".,;:!?()\"'")
	}
	return strings.Join(fields, " ")
}
