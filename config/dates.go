package config

import "strings"

// layoutTokens maps the display tokens accepted in EXPORT_DATE_FORMAT to Go
// reference layout fragments. Longer tokens come first so that "YYYY" wins
// over "YY".
var layoutTokens = []struct {
	token  string
	layout string
}{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"hh", "03"},
	{"mm", "04"},
	{"ss", "05"},
	{"A", "PM"},
}

// GoLayout converts a display pattern such as "DD/MM/YYYY HH:mm" into the
// equivalent Go time layout. Strings that already are Go layouts pass
// through untouched.
func GoLayout(pattern string) string {
	if strings.Contains(pattern, "2006") || strings.Contains(pattern, "15:04") {
		return pattern
	}

	var b strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, t := range layoutTokens {
			if strings.HasPrefix(pattern[i:], t.token) {
				b.WriteString(t.layout)
				i += len(t.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}
