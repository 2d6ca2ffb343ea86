// Package normalizers provides the text cleaning applied to facility fields
// before training, indexing and querying.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters that do not decompose into an ASCII base plus combining marks
var fallback = map[rune]string{
	'ß': "ss",
	'ø': "o",
	'Ø': "O",
	'æ': "ae",
	'Æ': "AE",
	'œ': "oe",
	'Œ': "OE",
	'đ': "d",
	'Đ': "D",
	'ł': "l",
	'Ł': "L",
	'þ': "th",
	'Þ': "TH",
	'ı': "i",
}

var punctuation = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	"-", "",
	"/", " ",
	"'", "",
	"\"", "",
	",", "",
	".", "",
	":", " ",
)

// Clean transliterates s to ASCII, strips or spaces out punctuation, collapses
// whitespace and lower-cases the result. An empty return means the value is absent.
// Clean(Clean(s)) == Clean(s) for every s.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = punctuation.Replace(ASCII(s))
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ASCII folds s to printable ASCII, dropping characters that have no ASCII form.
func ASCII(s string) string {
	// transform.Chain is stateful so each call builds its own
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			if repl, ok := fallback[r]; ok {
				b.WriteString(repl)
			}
		}
	}
	return b.String()
}

// Country normalizes an ISO-3166-1 alpha-2 code.
func Country(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
