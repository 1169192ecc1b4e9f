package importer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// HumanizeAllFirstCapitals lower-cases s and capitalises the first letter of
// every word: "HARROW BAPTIST CHURCH" -> "Harrow Baptist Church". Runs of
// whitespace collapse to one space.
func HumanizeAllFirstCapitals(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Title(language.BritishEnglish).String(strings.ToLower(s))
}

// Humanize lower-cases s and capitalises its first letter:
// "NO INFORMATION RECORDED" -> "No information recorded".
func Humanize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " "))
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// trailingPostcode matches a UK postcode at the end of an address, optionally
// preceded by a comma.
var trailingPostcode = regexp.MustCompile(`(?i)(?:^|[\s,])([A-Z]{1,2}[0-9][A-Z0-9]?)\s*([0-9][A-Z]{2})\s*$`)

// SplitAddress separates a trailing postcode from a free-text address and
// normalises both. Comma-separated parts are trimmed and title-cased.
func SplitAddress(raw string) (address, postcode string) {
	raw = strings.TrimSpace(raw)
	if m := trailingPostcode.FindStringSubmatchIndex(raw); m != nil {
		postcode = strings.ToUpper(raw[m[2]:m[3]] + " " + raw[m[4]:m[5]])
		raw = raw[:m[2]]
	}
	return normalizeAddress(raw), postcode
}

func normalizeAddress(raw string) string {
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = HumanizeAllFirstCapitals(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
