// Package bank loads the published assessment item bank from a set of
// *.item.json files on disk into an in-memory, read-only index.
// Grounded on internal/cli/agent.go's os.ReadDir + extension-filter
// directory scan idiom.
package bank

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/studyengine/core/internal/domain"
)

// FileBank is an immutable, in-memory domain.ItemBank loaded once at
// startup from one or more scope directories.
type FileBank struct {
	items   map[string]domain.Item
	byLO    map[string][]domain.Item
	loadErr map[string]error // per-file parse errors, surfaced by LoadErrors
}

// Load walks every directory in scopeDirs (non-recursively skipped
// directories are descended into) collecting *.item.json files, and
// builds a FileBank from every one that parses and validates. Files
// that fail to parse or validate are skipped and recorded, not fatal.
func Load(scopeDirs []string) (*FileBank, error) {
	b := &FileBank{
		items:   map[string]domain.Item{},
		byLO:    map[string][]domain.Item{},
		loadErr: map[string]error{},
	}

	for _, dir := range scopeDirs {
		paths, err := findItemFiles(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("bank: scan %s: %w", dir, err)
		}
		for _, path := range paths {
			if err := b.loadFile(path); err != nil {
				b.loadErr[path] = err
			}
		}
	}

	for lo, items := range b.byLO {
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		b.byLO[lo] = items
	}

	return b, nil
}

func findItemFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".item.json") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func (b *FileBank) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	var item domain.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if errs := item.Validate(); len(errs) > 0 {
		return fmt.Errorf("validate: %d errors (first: %v)", len(errs), errs[0])
	}
	b.items[item.ID] = item
	for _, lo := range item.LOs {
		b.byLO[lo] = append(b.byLO[lo], item)
	}
	return nil
}

// Get returns the item with the given id.
func (b *FileBank) Get(id string) (domain.Item, bool) {
	it, ok := b.items[id]
	return it, ok
}

// ItemsForLO returns every item tagged with loID, sorted by id.
func (b *FileBank) ItemsForLO(loID string) []domain.Item {
	return b.byLO[loID]
}

// All returns every item in the bank, sorted by id.
func (b *FileBank) All() []domain.Item {
	out := make([]domain.Item, 0, len(b.items))
	for _, it := range b.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Published returns every item with Status == StatusPublished.
func (b *FileBank) Published() []domain.Item {
	var out []domain.Item
	for _, it := range b.All() {
		if it.Status == domain.StatusPublished {
			out = append(out, it)
		}
	}
	return out
}

// LoadErrors returns the per-file errors encountered while loading,
// keyed by file path.
func (b *FileBank) LoadErrors() map[string]error {
	return b.loadErr
}

var _ domain.ItemBank = (*FileBank)(nil)
