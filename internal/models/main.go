// Package models defines the core data structures for users and their cards.
package models

import "time"

// User represents a remote user whose card collection is mirrored locally.
type User struct {
	// ID is the upstream numeric identifier, kept as text.
	ID string `json:"user_id" validate:"required,numeric"`
	// Username is the display name, nil when unknown.
	Username *string `json:"username,omitempty"`
	// Image is the avatar reference, nil when unknown.
	Image *string `json:"image,omitempty"`
	// Category drives the status badge. Zero value means "not specified".
	Category Category `json:"category,omitempty"`
}

// UserPatch is a partial update of a user. Nil fields are left untouched.
type UserPatch struct {
	Username *string
	Image    *string
	Category *Category
}

// IsEmpty reports whether the patch would change nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Username == nil && p.Image == nil && p.Category == nil
}

// Card is one stored card row. The row identity is (CardID, UserID); DataID
// tracks which upstream ownership instance the row mirrors.
type Card struct {
	// CardID is the card template identifier.
	CardID string `json:"card_id"`
	// UserID is the owner.
	UserID string `json:"user_id"`
	// Image is the card image reference.
	Image string `json:"image"`
	// Name is the card display name.
	Name *string `json:"name,omitempty"`
	// MangaName is the parent collection name.
	MangaName *string `json:"manga_name,omitempty"`
	// DataID is the upstream instance identifier.
	DataID *int64 `json:"data_id,omitempty"`
	// Lock is the upstream lock flag.
	Lock *bool `json:"lock,omitempty"`
	// CreatedAt is when the row was first written.
	CreatedAt time.Time `json:"created_at"`
}

// CardRecord is a card extracted from an upstream page.
type CardRecord struct {
	CardID    string `json:"card_id"`
	Image     string `json:"image"`
	Name      string `json:"name"`
	MangaName string `json:"manga_name"`
	DataID    *int64 `json:"data_id"`
	Lock      *bool  `json:"lock"`
}

// CardPatch is a partial update of a stored card. Nil fields are left untouched.
type CardPatch struct {
	Image     *string `json:"image,omitempty"`
	Name      *string `json:"name,omitempty"`
	MangaName *string `json:"manga_name,omitempty"`
	DataID    *int64  `json:"data_id,omitempty"`
	Lock      *bool   `json:"lock,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p CardPatch) IsEmpty() bool {
	return p.Image == nil && p.Name == nil && p.MangaName == nil && p.DataID == nil && p.Lock == nil
}

// CardKey addresses one stored card row.
type CardKey struct {
	UserID string `json:"user_id" validate:"required,numeric"`
	CardID string `json:"card_id" validate:"required"`
}

// UpdateOutcome is the result of a partial update that may target a missing row.
type UpdateOutcome int

const (
	// Updated means the row existed and the patch was applied.
	Updated UpdateOutcome = iota
	// NotFound means no row matched; nothing was written.
	NotFound
)

func (o UpdateOutcome) String() string {
	if o == NotFound {
		return "not_found"
	}
	return "updated"
}

// UserStatus is the presentation of a user's category.
type UserStatus struct {
	Category Category `json:"category"`
	Badge    string   `json:"badge"`
	Color    string   `json:"color"`
}

// UsersPage is one page of users listed by category.
type UsersPage struct {
	Users      []User `json:"users"`
	TotalPages int    `json:"total_pages"`
}
