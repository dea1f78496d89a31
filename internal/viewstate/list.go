package viewstate

import "github.com/starford/leetlab/internal/models"

// MaxShownTags is how many tags a list item displays before collapsing the
// rest into a "+N" marker.
const MaxShownTags = 4

// Empty-state messages.
const (
	EmptyCatalogMessage = "No demos found."
	NoMatchMessage      = "No demos match your filters"
)

// ListItem is one row of the demo list.
type ListItem struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Date      string   `json:"date"`
	ShownTags []string `json:"shown_tags"`
	MoreTags  int      `json:"more_tags"`
}

// Items converts entries into list rows.
func Items(entries []models.Descriptor) []ListItem {
	out := make([]ListItem, 0, len(entries))
	for _, d := range entries {
		shown := d.Tags
		if len(shown) > MaxShownTags {
			shown = shown[:MaxShownTags]
		}
		out = append(out, ListItem{
			ID:        d.ID,
			Title:     d.Title,
			Date:      d.Date,
			ShownTags: append([]string{}, shown...),
			MoreTags:  len(d.Tags) - len(shown),
		})
	}
	return out
}

// EmptyMessage returns the empty-state text for a resolution, or "" when
// an entry is visible.
func EmptyMessage(catalogLen int, r Resolution) string {
	switch {
	case catalogLen == 0:
		return EmptyCatalogMessage
	case !r.Visible:
		return NoMatchMessage
	default:
		return ""
	}
}
