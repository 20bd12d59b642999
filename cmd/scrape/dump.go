package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/atinyakov/cardsync/internal/models"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// pageDumper writes every decoded page under dir/<user>/ for offline
// inspection of the upstream payload.
type pageDumper struct {
	dir string
	log *zap.Logger
}

func (d *pageDumper) hook(userID string, offset int, groups []json.RawMessage, cards []models.CardRecord) {
	userDir := filepath.Join(d.dir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		d.log.Warn("dump: create dir", zap.String("dir", userDir), zap.Error(err))
		return
	}
	if err := writeJSONFile(filepath.Join(userDir, fmt.Sprintf("cards_offset_%d.json", offset)), groups); err != nil {
		d.log.Warn("dump: raw page", zap.Int("offset", offset), zap.Error(err))
	}
	if err := writeJSONFile(filepath.Join(userDir, fmt.Sprintf("parsed_cards_offset_%d.json", offset)), cards); err != nil {
		d.log.Warn("dump: parsed page", zap.Int("offset", offset), zap.Error(err))
	}
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// printJSON writes v to w as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
