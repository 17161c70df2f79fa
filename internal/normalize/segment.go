package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Segment cuts text into ordered chunks of at most limit runes. Chunks break at
// line boundaries when possible; a single line longer than limit is split at the
// last whitespace inside the window, or hard-split when there is none.
// The trailing partial chunk is always included. Blank input yields no segments.
func Segment(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxSegmentLength
	}

	segments := []string{}
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		if n == 0 {
			continue
		}
		if n > limit {
			flush()
			segments = append(segments, splitLine(line, limit)...)
			continue
		}

		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen+sep+n > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		curLen += sep + n
	}
	flush()

	return segments
}

func splitLine(line string, limit int) []string {
	runes := []rune(line)
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		part := strings.TrimSpace(string(runes[:cut]))
		if part != "" {
			parts = append(parts, part)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
