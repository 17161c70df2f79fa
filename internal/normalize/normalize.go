// Package normalize cleans raw clinical text before it reaches any analyzer:
// PHI is redacted, shorthand is expanded, and the text is cut into bounded segments.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// ErrInvalidInput is returned for empty, oversized or non-text input.
var ErrInvalidInput = models.ErrInvalidInput

const (
	// Placeholder replaces every redacted span.
	Placeholder = "[REDACTED]"
	// MaxSegmentLength bounds the rune length of a single segment.
	MaxSegmentLength = 8192
	// MaxTextLength bounds the rune length of an input document.
	MaxTextLength = 1_000_000
)

type phiPattern struct {
	class string
	re    *regexp.Regexp
}

// PHI patterns compiled once at package init. Order matters only for tie-breaking
// between overlapping matches that start at the same offset.
var phiPatterns = []phiPattern{
	{class: "ssn", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{class: "mrn", re: regexp.MustCompile(`(?i)\bMRN[:#]?\s*\d{6,10}\b`)},
	{class: "phone", re: regexp.MustCompile(`(?:\(\d{3}\)\s?|\b\d{3}[-. ])\d{3}[-. ]\d{4}\b|\b\d{10}\b`)},
	{class: "email", re: regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)},
}

var abbreviations = map[string]string{
	"pt":  "patient",
	"dx":  "diagnosis",
	"hx":  "history",
	"rx":  "prescription",
	"tx":  "treatment",
	"sx":  "symptoms",
	"bid": "twice daily",
	"tid": "three times daily",
	"qid": "four times daily",
	"prn": "as needed",
	"htn": "hypertension",
	"sob": "shortness of breath",
}

var (
	reAbbrev     = compileAbbreviations()
	reMilligram  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*mg\b`)
	reMilliliter = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*ml\b`)
	reMicrogram  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*mcg\b`)
	reSpaces     = regexp.MustCompile(`[ \t\f\v]+`)
)

func compileAbbreviations() *regexp.Regexp {
	keys := make([]string, 0, len(abbreviations))
	for k := range abbreviations {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	// Longest first so alternation never prefers a shorter key.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(keys, "|") + `)\b`)
}

// Result is the output of Normalize.
type Result struct {
	ProcessedText  string
	Segments       []string
	SensitiveSpans []models.SensitiveSpan
}

// Normalizer holds the segmenting limit. The zero value uses MaxSegmentLength.
type Normalizer struct {
	SegmentLength int
}

// New returns a Normalizer that cuts segments at segmentLength runes.
// Values outside (0, MaxSegmentLength] fall back to MaxSegmentLength.
func New(segmentLength int) *Normalizer {
	if segmentLength <= 0 || segmentLength > MaxSegmentLength {
		segmentLength = MaxSegmentLength
	}
	return &Normalizer{SegmentLength: segmentLength}
}

// Normalize redacts, expands and segments raw text.
func (n *Normalizer) Normalize(raw string) (*Result, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}

	redacted, spans := Redact(raw)
	text := ExpandAbbreviations(redacted)
	text = standardizeUnits(text)
	text = cleanWhitespace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is blank after cleanup", ErrInvalidInput)
	}

	limit := n.SegmentLength
	if limit <= 0 {
		limit = MaxSegmentLength
	}
	return &Result{
		ProcessedText:  text,
		Segments:       Segment(text, limit),
		SensitiveSpans: spans,
	}, nil
}

// Normalize runs the default Normalizer.
func Normalize(raw string) (*Result, error) {
	return New(MaxSegmentLength).Normalize(raw)
}

func validate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: document text is empty", ErrInvalidInput)
	}
	if !utf8.ValidString(raw) || strings.ContainsRune(raw, 0) {
		return fmt.Errorf("%w: document is not text", ErrInvalidInput)
	}
	if utf8.RuneCountInString(raw) > MaxTextLength {
		return fmt.Errorf("%w: document exceeds %d characters", ErrInvalidInput, MaxTextLength)
	}
	return nil
}

// Redact replaces every PHI match with Placeholder. Spans are byte offsets into text.
func Redact(text string) (string, []models.SensitiveSpan) {
	var found []models.SensitiveSpan
	for _, p := range phiPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			found = append(found, models.SensitiveSpan{Start: loc[0], End: loc[1], Class: p.class})
		}
	}
	if len(found) == 0 {
		return text, []models.SensitiveSpan{}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})

	spans := make([]models.SensitiveSpan, 0, len(found))
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range found {
		if s.Start < last {
			continue // overlaps a span already redacted
		}
		b.WriteString(text[last:s.Start])
		b.WriteString(Placeholder)
		last = s.End
		spans = append(spans, s)
	}
	b.WriteString(text[last:])
	return b.String(), spans
}

// ExpandAbbreviations replaces known shorthand on word boundaries, ignoring case.
func ExpandAbbreviations(text string) string {
	return reAbbrev.ReplaceAllStringFunc(text, func(m string) string {
		return abbreviations[strings.ToLower(m)]
	})
}

func standardizeUnits(text string) string {
	text = reMicrogram.ReplaceAllString(text, "$1 micrograms")
	text = reMilligram.ReplaceAllString(text, "$1 milligrams")
	return reMilliliter.ReplaceAllString(text, "$1 milliliters")
}

// cleanWhitespace collapses runs of spaces within lines and drops blank lines,
// keeping line structure for segmentation.
func cleanWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(reSpaces.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
