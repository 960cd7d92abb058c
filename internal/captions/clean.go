package captions

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	bracketedRe      = regexp.MustCompile(`\[[^\]]*\]`)
	parentheticalRe  = regexp.MustCompile(`\([^)]*\)`)
	nonSpeechTokenRe = regexp.MustCompile(`(?i)\b(music|applause)\b`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// &amp; goes first so double-encoded entities such as &amp;#39; decode fully.
var entityReplacer = []struct{ from, to string }{
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
	{"&#39;", "'"},
}

// Clean decodes entities, drops non-speech annotations and rejoins the text
// as single-spaced sentences.
func Clean(text string) string {
	for _, e := range entityReplacer {
		text = strings.ReplaceAll(text, e.from, e.to)
	}

	text = whitespaceRe.ReplaceAllString(text, " ")
	text = bracketedRe.ReplaceAllString(text, " ")
	text = parentheticalRe.ReplaceAllString(text, " ")
	text = nonSpeechTokenRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")

	var sentences []string
	for _, s := range splitSentences(text) {
		s = strings.TrimSpace(s)
		if !hasWordChar(s) {
			continue
		}
		sentences = append(sentences, s)
	}
	return strings.Join(sentences, " ")
}

// splitSentences cuts after each run of terminal punctuation. A lone period
// between two digits (3.5, 00:01.000) does not end a sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i
		for end+1 < len(runes) && isTerminal(runes[end+1]) {
			end++
		}
		if end == i && runes[i] == '.' && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:end+1]))
		start = end + 1
		i = end
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
