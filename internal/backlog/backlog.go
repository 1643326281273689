// Package backlog loads, validates, and selects from the work item
// backlog. The backlog is authored externally; the only mutation that ever
// happens here is flipping an item's passes flag.
package backlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/msageha/overseer/internal/docstore"
	"github.com/msageha/overseer/internal/model"
)

// Store reads and writes one backlog document.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads and validates the backlog document.
func (s *Store) Load() (model.Backlog, error) {
	var b model.Backlog
	if err := docstore.Load(s.Path, &b); err != nil {
		return b, fmt.Errorf("load backlog: %w", err)
	}
	if err := Validate(b); err != nil {
		return b, err
	}
	return b, nil
}

// Digest returns the content digest of the backlog document on disk.
// Any byte change counts: the digest is how the controller detects
// backlog progress between iterations.
func (s *Store) Digest() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read backlog: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MarkPassed flips passes=true on one item via whole-document
// read-modify-write. It is the controller's only backlog mutation.
func (s *Store) MarkPassed(id string) error {
	_, err := docstore.Update(s.Path, func(b *model.Backlog) error {
		for i := range b.Items {
			if b.Items[i].ID == id {
				b.Items[i].Passes = true
				return nil
			}
		}
		return fmt.Errorf("item %q not found", id)
	})
	return err
}

// Validate enforces the backlog invariants: non-empty unique ids, every
// dependency resolving to an existing item with slice <= the dependent's
// slice, and an acyclic dependency graph.
func Validate(b model.Backlog) error {
	byID := make(map[string]*model.WorkItem, len(b.Items))
	for i := range b.Items {
		item := &b.Items[i]
		if item.ID == "" {
			return fmt.Errorf("backlog item %d has an empty id", i)
		}
		if _, dup := byID[item.ID]; dup {
			return fmt.Errorf("duplicate item id %q", item.ID)
		}
		byID[item.ID] = item
	}

	for i := range b.Items {
		item := &b.Items[i]
		for _, dep := range item.Dependencies {
			target, ok := byID[dep]
			if !ok {
				return fmt.Errorf("item %q depends on unknown item %q", item.ID, dep)
			}
			if target.Slice > item.Slice {
				return fmt.Errorf("item %q (slice %d) depends on %q in a later slice %d",
					item.ID, item.Slice, dep, target.Slice)
			}
		}
	}

	// Cycle detection by iterative DFS with three-color marking.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(b.Items))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range byID[id].Dependencies {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle through %q and %q", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for i := range b.Items {
		if color[b.Items[i].ID] == white {
			if err := visit(b.Items[i].ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ActiveSlice returns the minimum slice among incomplete items. The second
// return is false when every item passes.
func ActiveSlice(b model.Backlog) (int, bool) {
	found := false
	active := 0
	for _, item := range b.Items {
		if item.Passes {
			continue
		}
		if !found || item.Slice < active {
			active = item.Slice
			found = true
		}
	}
	return active, found
}

// SelectDeterministic picks the max-priority incomplete item in the active
// slice, ties broken by declared order. Items whose dependencies are all
// satisfied are preferred; when none qualify, the unmet-dependency items
// compete so the loop still surfaces the blockage through verification
// rather than stalling silently.
func SelectDeterministic(b model.Backlog, activeSlice int) *model.WorkItem {
	passed := make(map[string]bool, len(b.Items))
	for _, item := range b.Items {
		if item.Passes {
			passed[item.ID] = true
		}
	}

	pick := func(requireDeps bool) *model.WorkItem {
		var best *model.WorkItem
		for i := range b.Items {
			item := &b.Items[i]
			if item.Passes || item.Slice != activeSlice {
				continue
			}
			if requireDeps {
				ok := true
				for _, dep := range item.Dependencies {
					if !passed[dep] {
						ok = false
						break
					}
				}
				if !ok {
					continue
				}
			}
			if best == nil || item.Priority > best.Priority {
				best = item
			}
		}
		return best
	}

	if item := pick(true); item != nil {
		return item
	}
	return pick(false)
}

// ValidateSelection re-validates an agent-named candidate id against the
// backlog: it must exist, be incomplete, and sit in the active slice.
func ValidateSelection(b model.Backlog, id string, activeSlice int) (*model.WorkItem, error) {
	for i := range b.Items {
		item := &b.Items[i]
		if item.ID != id {
			continue
		}
		if item.Passes {
			return nil, fmt.Errorf("item %q already passes", id)
		}
		if item.Slice != activeSlice {
			return nil, fmt.Errorf("item %q is in slice %d, active slice is %d", id, item.Slice, activeSlice)
		}
		return item, nil
	}
	return nil, fmt.Errorf("item %q does not exist", id)
}
