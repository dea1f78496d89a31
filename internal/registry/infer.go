package registry

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/starford/leetlab/internal/models"
)

var (
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	separatorRunRe = regexp.MustCompile(`[-_]+`)
)

// Infer derives the date and title encoded in a unit id such as
// "2026-02-17-hello-world". Ids without a date prefix get models.UnknownDate
// and a title built from the whole id.
func Infer(id string) (date, title string) {
	date = models.UnknownDate
	slug := id
	if len(id) >= 10 && datePattern.MatchString(id[:10]) {
		date = id[:10]
		slug = ""
		if len(id) > 11 {
			slug = id[11:]
		}
	}
	if slug == "" {
		slug = id
	}
	return date, Humanize(slug)
}

// Humanize turns a slug into a title: runs of '-' or '_' become one space and
// the first letter of every word is uppercased.
func Humanize(slug string) string {
	s := separatorRunRe.ReplaceAllString(slug, " ")
	var b strings.Builder
	b.Grow(len(s))
	inWord := false
	for _, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		if word && !inWord {
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
		inWord = word
	}
	return b.String()
}

// IsDate reports whether s has the strict YYYY-MM-DD shape.
func IsDate(s string) bool {
	return datePattern.MatchString(s)
}
