package parser

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/atinyakov/cardsync/internal/models"
	"github.com/goccy/go-json"
)

// cardsGroup is one element of a cards page.
type cardsGroup struct {
	Cards []cardEntry `json:"cards"`
}

// cardEntry is one owned card instance.
type cardEntry struct {
	ID     optInt64        `json:"id"`
	IsLock optBool         `json:"is_lock"`
	Card   json.RawMessage `json:"card"`
}

type cardPayload struct {
	ID    json.RawMessage `json:"id"`
	Image *string         `json:"image"`
	Name  *string         `json:"name"`
	Manga *struct {
		Name *string `json:"name"`
	} `json:"manga"`
}

// optInt64 accepts a JSON number, a numeric string or null.
type optInt64 struct {
	v *int64
}

func (o *optInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		o.v = nil
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("instance id: %w", err)
		}
		if s == "" {
			o.v = nil
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("instance id %q: %w", s, err)
	}
	o.v = &n
	return nil
}

// optBool accepts true/false, 0/1 or null.
type optBool struct {
	v *bool
}

func (o *optBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var v bool
	switch string(b) {
	case "", "null":
		o.v = nil
		return nil
	case "true", "1", `"1"`, `"true"`:
		v = true
	case "false", "0", `"0"`, `"false"`:
		v = false
	default:
		return fmt.Errorf("lock flag %s: unsupported value", b)
	}
	o.v = &v
	return nil
}

// splitPage normalizes a raw page body: a list is used as-is, a single object
// becomes a one-element page. ok is false for any other shape.
func splitPage(body []byte) (groups []json.RawMessage, ok bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, nil
	}

	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &groups); err != nil {
			return nil, false, fmt.Errorf("decode page list: %w", err)
		}
		return groups, true, nil
	case '{':
		if !json.Valid(body) {
			return nil, false, fmt.Errorf("decode page object: invalid json")
		}
		return []json.RawMessage{json.RawMessage(body)}, true, nil
	default:
		return nil, false, nil
	}
}

// ExtractCards turns the groups of one page into card records. Entries whose
// embedded card is missing or empty are upstream tombstones and are skipped.
func ExtractCards(groups []json.RawMessage) ([]models.CardRecord, error) {
	out := make([]models.CardRecord, 0)

	for i, raw := range groups {
		var g cardsGroup
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}

		for _, entry := range g.Cards {
			empty, err := isEmptyJSON(entry.Card)
			if err != nil {
				return nil, fmt.Errorf("group %d: %w", i, err)
			}
			if empty {
				continue
			}

			var card cardPayload
			if err := json.Unmarshal(entry.Card, &card); err != nil {
				return nil, fmt.Errorf("group %d: card: %w", i, err)
			}

			rec := models.CardRecord{
				CardID: rawText(card.ID),
				DataID: entry.ID.v,
				Lock:   entry.IsLock.v,
			}
			if card.Image != nil {
				rec.Image = *card.Image
			}
			if card.Name != nil {
				rec.Name = *card.Name
			}
			if card.Manga != nil && card.Manga.Name != nil {
				rec.MangaName = *card.Manga.Name
			}
			out = append(out, rec)
		}
	}

	return out, nil
}

// isEmptyJSON reports whether raw is absent or a falsy JSON value.
func isEmptyJSON(raw json.RawMessage) (bool, error) {
	b := bytes.TrimSpace(raw)
	switch string(b) {
	case "", "null", "{}", "[]", `""`, "false", "0":
		return true, nil
	}
	if b[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(b, &fields); err != nil {
			return false, fmt.Errorf("card: %w", err)
		}
		return len(fields) == 0, nil
	}
	return false, nil
}

// rawText renders a JSON scalar as text: strings are unquoted, numbers kept
// verbatim, null and absence become "".
func rawText(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return s
		}
	}
	return string(b)
}
