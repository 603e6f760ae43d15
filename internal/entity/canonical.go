package entity

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const edgePunct = " \t\r\n\"'`.,;:()[]{}<>"

var (
	spaceRunRe  = regexp.MustCompile(`\s+`)
	honorificRe = regexp.MustCompile(`^(mr|mrs|ms|miss|dr|prof|sir|madam)\.?\s+`)
	nonDigitRe  = regexp.MustCompile(`\D`)
	punctRe     = regexp.MustCompile(`[^\p{L}\p{N}_\s\-./@]`)
)

// Canonicalize normalizes an entity mention into its merge key: NFKC,
// collapsed whitespace, edge punctuation stripped, lowercased. PERSON drops
// a leading honorific; EMAIL and URL keep the lowered form as-is; PHONE and
// SSN reduce to digits; everything else drops residual punctuation.
func Canonicalize(text, label string) string {
	t := strings.TrimSpace(norm.NFKC.String(text))
	t = spaceRunRe.ReplaceAllString(t, " ")
	t = strings.Trim(t, edgePunct)

	low := strings.ToLower(t)
	label = strings.ToUpper(label)

	if label == "PERSON" {
		low = honorificRe.ReplaceAllString(low, "")
		low = strings.TrimSpace(spaceRunRe.ReplaceAllString(low, " "))
	}

	switch label {
	case "EMAIL", "URL":
		return low
	case "PHONE", "SSN":
		return nonDigitRe.ReplaceAllString(low, "")
	}

	low = punctRe.ReplaceAllString(low, "")
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(low, " "))
}
