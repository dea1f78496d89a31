package viewstate

import (
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/starford/leetlab/internal/models"
)

// AllTags is the tag filter value that matches every entry.
const AllTags = "all"

// TagUniverse returns AllTags followed by every distinct tag found in
// entries, sorted with locale-aware collation.
func TagUniverse(entries []models.Descriptor) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, d := range entries {
		for _, t := range d.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	collate.New(language.Und).SortStrings(tags)
	return append([]string{AllTags}, tags...)
}

// Filter returns the entries matching both the tag filter and the free-text
// query. The query is trimmed and matched case-insensitively against title,
// id and tags.
func Filter(entries []models.Descriptor, query, tag string) []models.Descriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Descriptor, 0, len(entries))
	for _, d := range entries {
		if tag != AllTags && !d.HasTag(tag) {
			continue
		}
		if q != "" && !matchesQuery(d, q) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func matchesQuery(d models.Descriptor, q string) bool {
	if strings.Contains(strings.ToLower(d.Title), q) || strings.Contains(strings.ToLower(d.ID), q) {
		return true
	}
	for _, t := range d.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}
