package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*$`)
	numberedHeading = regexp.MustCompile(`^(?:\d{1,2}(?:\.\d{1,2})*\.?\s+\p{Lu}|(?i:section|article|chapter|part)\s+[\dIVXLC]+(?:\.\d+)*[.:]?(?:\s+\S|$))`)

	tocDotLeader  = regexp.MustCompile(`(?:\.\s?){4,}\s*\d+\s*$`)
	punctOnly     = regexp.MustCompile(`^[\s.\-_=*·•]{3,}$`)
	pageFooter    = regexp.MustCompile(`(?i)^(?:page\s*\d+(?:\s*(?:of|/)\s*\d+)?|\d+\s*/\s*\d+)$`)
	sentenceAbbrs = map[string]bool{
		"e.g.": true, "i.e.": true, "etc.": true, "vs.": true, "mr.": true, "mrs.": true,
		"ms.": true, "dr.": true, "no.": true, "inc.": true, "ltd.": true, "co.": true, "st.": true,
	}
)

const maxHeadingChars = 80

// headingText returns the section title if line is a heading. standalone
// reports whether the line follows a blank line or starts the page; the
// Title-Case and ALL-CAPS rules only apply to standalone lines.
func headingText(line string, standalone bool) (string, bool) {
	n := utf8.RuneCountInString(line)
	if n == 0 || n > maxHeadingChars {
		return "", false
	}
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if endsLikeSentence(line) {
		return "", false
	}
	if numberedHeading.MatchString(line) {
		return line, true
	}
	if !standalone || n > 60 {
		return "", false
	}
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 8 {
		return "", false
	}
	if isAllCaps(line) || isTitleCase(words) {
		return line, true
	}
	return "", false
}

func endsLikeSentence(line string) bool {
	r, _ := utf8.DecodeLastRuneInString(line)
	return strings.ContainsRune(".,;:!?", r)
}

func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}

var minorWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "by": true, "for": true,
	"in": true, "of": true, "on": true, "or": true, "the": true, "to": true, "with": true,
}

func isTitleCase(words []string) bool {
	for i, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsLetter(r) {
			if unicode.IsDigit(r) {
				continue
			}
			return false
		}
		if i > 0 && minorWords[strings.ToLower(w)] {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// isNoiseLine reports table-of-contents entries, punctuation rules and page
// footers.
func isNoiseLine(line string) bool {
	return tocDotLeader.MatchString(line) || punctOnly.MatchString(line) || pageFooter.MatchString(line)
}

// splitSentences splits on terminal punctuation followed by whitespace,
// keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && strings.ContainsRune(`"')]`, runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			continue
		}
		if r == '.' && isAbbreviation(runes[start:i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isAbbreviation(sentence []rune) bool {
	fields := strings.Fields(string(sentence))
	if len(fields) == 0 {
		return false
	}
	return sentenceAbbrs[strings.ToLower(fields[len(fields)-1])]
}

// hardWrap splits text on word boundaries into pieces of at most max runes.
// A single word longer than max is cut.
func hardWrap(text string, max int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, w := range strings.Fields(text) {
		wl := utf8.RuneCountInString(w)
		for wl > max {
			flush()
			rs := []rune(w)
			out = append(out, string(rs[:max]))
			w = string(rs[max:])
			wl -= max
		}
		if wl == 0 {
			continue
		}
		switch {
		case curLen == 0:
			cur.WriteString(w)
			curLen = wl
		case curLen+1+wl <= max:
			cur.WriteByte(' ')
			cur.WriteString(w)
			curLen += 1 + wl
		default:
			flush()
			cur.WriteString(w)
			curLen = wl
		}
	}
	flush()
	return out
}

// Summary returns the first two substantive sentences, or a prefix.
func Summary(text string) string {
	var picked []string
	for _, s := range splitSentences(strings.Join(strings.Fields(text), " ")) {
		if utf8.RuneCountInString(s) > 20 {
			picked = append(picked, s)
			if len(picked) == 2 {
				break
			}
		}
	}
	if len(picked) > 0 {
		return strings.Join(picked, " ")
	}
	rs := []rune(strings.TrimSpace(text))
	if len(rs) > 200 {
		rs = rs[:200]
	}
	return strings.TrimSpace(string(rs))
}

// Quality is the share of letters and digits among all characters.
func Quality(text string) float64 {
	total, alnum := 0, 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(alnum) / float64(total)
}
