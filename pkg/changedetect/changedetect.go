// Package changedetect implements spec §4.9: comparing a freshly
// normalized binnacle list against the stored Snapshot to decide
// whether anything changed, and if so, which ChangeLogEntries to
// emit.
package changedetect

import (
	"fmt"
	"time"

	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/normalize"
)

// Result is the outcome of one Detect call.
type Result struct {
	IsFirstScrape bool
	HasChanges    bool
	Changes       []domain.ChangeLogEntry
	NewHash       string
	OldHash       string
}

// diffFields lists the CanonicalBinnacle fields compared field-by-
// field when a key matches between old and new (spec §4.9).
var diffFields = []string{
	"notificationType",
	"acto",
	"fojas",
	"folios",
	"provedioDate",
	"sumilla",
	"userDescription",
	"notificationCount",
}

// key uniquely identifies a binnacle across scrapes for diff matching,
// per spec §4.9: (resolutionDate, entryDate, resolution).
type key struct {
	resolutionDate string
	entryDate      string
	resolution     string
}

func keyOf(b domain.CanonicalBinnacle) key {
	return key{
		resolutionDate: derefStr(b.ResolutionDate),
		entryDate:      derefStr(b.EntryDate),
		resolution:     derefStr(b.Resolution),
	}
}

// ChangeDetector compares canonical binnacle lists and produces the
// ChangeLogEntries a successful scrape should persist.
type ChangeDetector struct {
	hasher *normalize.Hasher
}

func NewChangeDetector(hasher *normalize.Hasher) *ChangeDetector {
	return &ChangeDetector{hasher: hasher}
}

// Detect compares newList against prev (the stored Snapshot's
// canonical payload) and prevHash. now stamps every emitted entry's
// DetectedAt.
func (d *ChangeDetector) Detect(newList []domain.CanonicalBinnacle, prev []domain.CanonicalBinnacle, prevHash string, now time.Time) (Result, error) {
	newHash, err := d.hasher.Hash(newList)
	if err != nil {
		return Result{}, fmt.Errorf("hash new binnacle list: %w", err)
	}

	if len(prev) == 0 {
		return Result{
			IsFirstScrape: true,
			HasChanges:    true,
			Changes:       nil,
			NewHash:       newHash,
			OldHash:       "",
		}, nil
	}

	if newHash == prevHash {
		return Result{HasChanges: false, Changes: nil, NewHash: newHash, OldHash: prevHash}, nil
	}

	changes := Diff(newList, prev)
	for i := range changes {
		changes[i].DetectedAt = now
	}
	return Result{
		HasChanges: true,
		Changes:    changes,
		NewHash:    newHash,
		OldHash:    prevHash,
	}, nil
}

// Diff computes the structured field-level diff between newList and
// oldList, keyed by (resolutionDate, entryDate, resolution). Ordering
// is deterministic: iterate newList by index, then iterate unmatched
// entries of oldList in their original insertion order (spec §4.9).
func Diff(newList []domain.CanonicalBinnacle, oldList []domain.CanonicalBinnacle) []domain.ChangeLogEntry {
	oldByKey := make(map[key]domain.CanonicalBinnacle, len(oldList))
	oldOrder := make([]key, 0, len(oldList))
	matched := make(map[key]bool, len(oldList))
	for _, old := range oldList {
		k := keyOf(old)
		oldByKey[k] = old
		oldOrder = append(oldOrder, k)
	}

	var entries []domain.ChangeLogEntry

	for _, n := range newList {
		k := keyOf(n)
		old, found := oldByKey[k]
		if !found {
			entries = append(entries, domain.ChangeLogEntry{ChangeType: domain.ChangeTypeNewBinnacle})
			continue
		}
		matched[k] = true
		entries = append(entries, diffFieldsOf(old, n)...)
	}

	for _, k := range oldOrder {
		if matched[k] {
			continue
		}
		entries = append(entries, domain.ChangeLogEntry{ChangeType: domain.ChangeTypeRemovedBinnacle})
	}

	return entries
}

func diffFieldsOf(old, n domain.CanonicalBinnacle) []domain.ChangeLogEntry {
	var entries []domain.ChangeLogEntry

	compare := func(field, oldVal, newVal string) {
		if oldVal == newVal {
			return
		}
		f, ov, nv := field, oldVal, newVal
		entries = append(entries, domain.ChangeLogEntry{
			ChangeType: domain.ChangeTypeModifiedBinnacle,
			FieldName:  &f,
			OldValue:   &ov,
			NewValue:   &nv,
		})
	}

	compare("notificationType", derefStr(old.NotificationType), derefStr(n.NotificationType))
	compare("acto", derefStr(old.Acto), derefStr(n.Acto))
	compare("fojas", derefInt(old.Fojas), derefInt(n.Fojas))
	compare("folios", derefInt(old.Folios), derefInt(n.Folios))
	compare("provedioDate", derefStr(old.ProvedioDate), derefStr(n.ProvedioDate))
	compare("sumilla", derefStr(old.Sumilla), derefStr(n.Sumilla))
	compare("userDescription", derefStr(old.UserDescription), derefStr(n.UserDescription))
	compare("notificationCount", fmt.Sprintf("%d", old.NotificationCount), fmt.Sprintf("%d", n.NotificationCount))

	return entries
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf("%d", *n)
}
