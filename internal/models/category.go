package models

import "github.com/atinyakov/cardsync/internal/apperr"

// Category is the closed set of user classifications.
type Category string

const (
	Blocked    Category = "blocked"
	Normal     Category = "normal"
	Viewed     Category = "Viewed"
	Freebie    Category = "freebie"
	Equivalent Category = "equivalent"
	Affordable Category = "Affordable"
)

// Badge is the glyph and color rendered for a category.
type Badge struct {
	Glyph string `json:"badge"`
	Color string `json:"color"`
}

var categoryOrder = []Category{Blocked, Normal, Viewed, Freebie, Equivalent, Affordable}

var badges = map[Category]Badge{
	Blocked:    {Glyph: "𝗫", Color: "rgb(220, 20, 60)"},
	Normal:     {Glyph: "✓", Color: "rgb(0, 128, 0)"},
	Viewed:     {Glyph: "👁", Color: "rgb(0, 194, 168)"},
	Freebie:    {Glyph: "⭐", Color: "rgb(255, 223, 0)"},
	Equivalent: {Glyph: "🟰", Color: "rgb(0, 0, 0)"},
	Affordable: {Glyph: "💰", Color: "rgb(34, 139, 34)"},
}

// Categories returns every valid category in display order.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// CategoryNames returns the valid category values as strings.
func CategoryNames() []string {
	out := make([]string, len(categoryOrder))
	for i, c := range categoryOrder {
		out[i] = string(c)
	}
	return out
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	_, ok := badges[c]
	return ok
}

// AutoManaged reports whether the category is maintained by the live probe.
// Every other category is curated by hand and never overwritten automatically.
func (c Category) AutoManaged() bool {
	return c == Blocked || c == Normal
}

// Badge returns the presentation of c. Unknown categories render as normal.
func (c Category) Badge() Badge {
	if b, ok := badges[c]; ok {
		return b
	}
	return badges[Normal]
}

// Status builds the presentation record for c.
func (c Category) Status() UserStatus {
	b := c.Badge()
	return UserStatus{Category: c, Badge: b.Glyph, Color: b.Color}
}

// ValidateCategory parses s into a Category or fails with InvalidCategoryError.
func ValidateCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", &apperr.InvalidCategoryError{Category: s, Valid: CategoryNames()}
	}
	return c, nil
}

// BadgeTable returns the badge of every category keyed by name.
func BadgeTable() map[string]Badge {
	out := make(map[string]Badge, len(badges))
	for c, b := range badges {
		out[string(c)] = b
	}
	return out
}
