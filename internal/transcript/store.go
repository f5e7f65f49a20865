// Package transcript implements the merge/sort/dedup/receipt-flag algorithm
// over transcript item sequences. All operations are pure: they return fresh
// slices and never mutate their inputs, so UI readers holding a previous
// snapshot never observe a partially-updated transcript.
package transcript

import (
	"fmt"
	"sort"

	"github.com/tamsinv/parley/internal/domain"
)

// SuppressFunc reports whether a freshly arrived item should be dropped
// before merging. The session layer supplies it to filter round-trip echoes
// of the local participant's own system events.
type SuppressFunc func(domain.TranscriptItem) bool

// InvalidItemError indicates a malformed item reached the merge routine.
// This is a programming-error class: it points at an upstream mapping bug,
// not a runtime condition, and is allowed to propagate.
type InvalidItemError struct {
	ID     string
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid transcript item %q: %s", e.ID, e.Reason)
}

// MergeResult is the outcome of a merge: the new transcript plus the one
// side-effect policy trigger the merge can produce. The store never sends
// receipts itself; it tells the caller which item needs one.
type MergeResult struct {
	Items []domain.TranscriptItem

	// ReadReceiptFor is set when the most recent incoming item precedes the
	// most recent outgoing item, meaning the local participant has seen it
	// and an outbound read receipt should be emitted for it.
	ReadReceiptFor *domain.TranscriptItem
}

// MergeItems folds newItems into existing and returns the reconciled
// transcript. Items sharing an ID with an existing entry replace it. The
// result is stably sorted ascending by SentTime, except items still in
// Sending status order after all settled items. Receipt flags are recomputed
// from scratch on every merge.
func MergeItems(existing, newItems []domain.TranscriptItem, suppress SuppressFunc) (MergeResult, error) {
	incoming := make([]domain.TranscriptItem, 0, len(newItems))
	for _, it := range newItems {
		if suppress != nil && suppress(it) {
			continue
		}
		if err := validate(it); err != nil {
			return MergeResult{}, err
		}
		incoming = append(incoming, it)
	}

	replaced := make(map[string]struct{}, len(incoming))
	for _, it := range incoming {
		replaced[it.ID] = struct{}{}
	}

	merged := make([]domain.TranscriptItem, 0, len(existing)+len(incoming))
	for _, it := range existing {
		if _, ok := replaced[it.ID]; ok {
			continue
		}
		merged = append(merged, it)
	}
	merged = append(merged, incoming...)

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		as, bs := a.Status == domain.StatusSending, b.Status == domain.StatusSending
		if as != bs {
			return bs // non-Sending before Sending
		}
		return a.SentTime < b.SentTime
	})

	return applyReceiptFlags(merged), nil
}

// ReplaceItem removes the item with oldID and merges replacement in its
// stead. Removal is by ID so the caller can swap a provisional entry for a
// settled one even when the replacement carries a different ID.
func ReplaceItem(existing []domain.TranscriptItem, oldID string, replacement domain.TranscriptItem, suppress SuppressFunc) (MergeResult, error) {
	kept := make([]domain.TranscriptItem, 0, len(existing))
	for _, it := range existing {
		if it.ID == oldID {
			continue
		}
		kept = append(kept, it)
	}
	return MergeItems(kept, []domain.TranscriptItem{replacement}, suppress)
}

// RemoveItem drops the item with the given ID, preserving order and flags.
func RemoveItem(existing []domain.TranscriptItem, id string) []domain.TranscriptItem {
	kept := make([]domain.TranscriptItem, 0, len(existing))
	for _, it := range existing {
		if it.ID == id {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// FindByID returns the item with the given ID, or false if absent.
func FindByID(items []domain.TranscriptItem, id string) (domain.TranscriptItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.TranscriptItem{}, false
}

// LastSentTime returns the SentTime of the final item, or 0 for an empty
// transcript. Used for the fallback timestamp on failed sends.
func LastSentTime(items []domain.TranscriptItem) float64 {
	if len(items) == 0 {
		return 0
	}
	return items[len(items)-1].SentTime
}

// applyReceiptFlags resets both derived flags on every item, then scans
// backward for the receipt and direction anchors:
//
//	R — last outgoing item with ReceiptType read
//	D — last outgoing item with ReceiptType delivered
//	I — last incoming item
//	O — last outgoing item
//
// At most one item gets LastReadReceipt; the delivered flag is suppressed
// unless its index is strictly after the read index (read takes priority).
func applyReceiptFlags(items []domain.TranscriptItem) MergeResult {
	r, d, i, o := -1, -1, -1, -1

	for idx := len(items) - 1; idx >= 0; idx-- {
		items[idx].LastReadReceipt = false
		items[idx].LastDeliveredReceipt = false

		it := items[idx]
		switch it.Direction {
		case domain.DirectionOutgoing:
			if o == -1 {
				o = idx
			}
			if r == -1 && it.ReceiptType == domain.ReceiptRead {
				r = idx
			}
			if d == -1 && it.ReceiptType == domain.ReceiptDelivered {
				d = idx
			}
		case domain.DirectionIncoming:
			if i == -1 {
				i = idx
			}
		}
	}

	if r != -1 {
		items[r].LastReadReceipt = true
	}
	if d != -1 && r < d {
		items[d].LastDeliveredReceipt = true
	}

	res := MergeResult{Items: items}
	if i != -1 && o > i {
		target := items[i]
		res.ReadReceiptFor = &target
	}
	return res
}

func validate(it domain.TranscriptItem) error {
	if it.ID == "" {
		return &InvalidItemError{ID: it.ID, Reason: "missing id"}
	}
	if it.SentTime <= 0 {
		return &InvalidItemError{ID: it.ID, Reason: "missing sentTime"}
	}
	return nil
}
