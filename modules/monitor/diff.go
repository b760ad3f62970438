package monitor

import (
	"slices"

	"hubwatch/pkg/hub"
)

// listingDiff is the outcome of comparing one publisher's fresh listing
// against its stored state.
type listingDiff struct {
	// BaselineSync is true when the publisher has no stored listing yet.
	// The fresh listing is recorded without any announcements.
	BaselineSync bool
	// Announce holds new non-variant model IDs in announcement order,
	// oldest release first.
	Announce []string
	// SuppressedVariants holds new variant model IDs. They enter the stored
	// listing but are never announced.
	SuppressedVariants []string
	// UpdateState is true when the stored listing must be replaced with the
	// fresh one.
	UpdateState bool
}

// dedupeModels flattens a listing into model IDs with duplicates removed,
// preserving first-seen order.
func dedupeModels(refs []hub.ModelRef) []string {
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, exists := seen[ref.ID]; exists {
			continue
		}
		seen[ref.ID] = struct{}{}
		ids = append(ids, ref.ID)
	}

	return ids
}

// diffListing compares a deduplicated fresh listing against the previously
// stored one.
//
// Listings arrive newest first, so new IDs are reversed before announcement
// to deliver releases in chronological order. Any difference from the stored
// listing, including pure reordering or removals, marks the state for
// replacement.
func diffListing(current, previous []string, hasPrevious bool) listingDiff {
	if !hasPrevious {
		return listingDiff{BaselineSync: true, UpdateState: true}
	}

	previousSet := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		previousSet[id] = struct{}{}
	}

	var newIDs []string
	for _, id := range current {
		if _, exists := previousSet[id]; !exists {
			newIDs = append(newIDs, id)
		}
	}

	diff := listingDiff{
		UpdateState: len(newIDs) > 0 || !slices.Equal(current, previous),
	}
	for _, id := range newIDs {
		if hub.IsVariantModel(id) {
			diff.SuppressedVariants = append(diff.SuppressedVariants, id)
			continue
		}
		diff.Announce = append(diff.Announce, id)
	}
	slices.Reverse(diff.Announce)

	return diff
}
