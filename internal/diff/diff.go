package diff

import (
	"strconv"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/utils"
)

// reviewContentPrefix is how much of a review's text takes part in change detection
const reviewContentPrefix = 100

// IDIndex finds the canonical record sharing an identifier with ids, nil if none
type IDIndex interface {
	FindByIDs(ids models.MediaIDs) *models.MediaIDs
}

// EffectiveIDs returns the item's identifiers with the legacy imdb id folded in
func EffectiveIDs(item models.Identifiable) models.MediaIDs {
	ids := item.GetIDs()
	if ids.IMDB == "" {
		ids.IMDB = item.GetIMDBID()
	}
	return ids
}

// MatchByAnyID reports whether two items share any identifier
func MatchByAnyID(a, b models.Identifiable) bool {
	return EffectiveIDs(a).SharesID(EffectiveIDs(b))
}

// Match reports whether two items denote the same title, directly or through the index
func Match(a, b models.Identifiable, idx IDIndex) bool {
	aIDs, bIDs := EffectiveIDs(a), EffectiveIDs(b)
	if aIDs.SharesID(bIDs) {
		return true
	}
	if idx == nil || aIDs.IsEmpty() || bIDs.IsEmpty() {
		return false
	}
	ca := idx.FindByIDs(aIDs)
	return ca != nil && ca == idx.FindByIDs(bIDs)
}

// keySet indexes a collection by identifier keys and by canonical cache record
type keySet struct {
	keys      map[string]struct{}
	canonical map[*models.MediaIDs]struct{}
	idx       IDIndex
}

func newKeySet(idx IDIndex) *keySet {
	return &keySet{
		keys:      make(map[string]struct{}),
		canonical: make(map[*models.MediaIDs]struct{}),
		idx:       idx,
	}
}

func (s *keySet) add(ids models.MediaIDs) {
	for _, key := range ids.Keys() {
		s.keys[key] = struct{}{}
	}
	if s.idx == nil {
		return
	}
	if rec := s.idx.FindByIDs(ids); rec != nil {
		s.canonical[rec] = struct{}{}
	}
}

func (s *keySet) contains(ids models.MediaIDs) bool {
	for _, key := range ids.Keys() {
		if _, ok := s.keys[key]; ok {
			return true
		}
	}
	if s.idx == nil {
		return false
	}
	rec := s.idx.FindByIDs(ids)
	if rec == nil {
		return false
	}
	if _, ok := s.canonical[rec]; ok {
		return true
	}
	for _, key := range rec.Keys() {
		if _, ok := s.keys[key]; ok {
			return true
		}
	}
	return false
}

// FilterNotIn returns the source items that match no target item. Items without any
// identifier are dropped since they cannot be pushed. idx may be nil.
func FilterNotIn[T models.Identifiable](source, target []T, idx IDIndex) []T {
	existing := newKeySet(idx)
	for _, item := range target {
		existing.add(EffectiveIDs(item))
	}

	var out []T
	for _, item := range source {
		ids := EffectiveIDs(item)
		if ids.IsEmpty() {
			continue
		}
		if existing.contains(ids) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Set is a membership index over items of any type
type Set struct {
	keys *keySet
}

// NewSet indexes items. idx may be nil.
func NewSet[T models.Identifiable](items []T, idx IDIndex) *Set {
	s := &Set{keys: newKeySet(idx)}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add indexes one more item
func (s *Set) Add(item models.Identifiable) {
	s.keys.add(EffectiveIDs(item))
}

// Contains reports whether item matches an indexed item
func (s *Set) Contains(item models.Identifiable) bool {
	ids := EffectiveIDs(item)
	return !ids.IsEmpty() && s.keys.contains(ids)
}

// FilterIn returns the items matching an entry of set
func FilterIn[T models.Identifiable](items []T, set *Set) []T {
	var out []T
	for _, item := range items {
		if set.Contains(item) {
			out = append(out, item)
		}
	}
	return out
}

// Dedupe keeps the first item of every group of items sharing an identifier.
// Items without identifiers are kept.
func Dedupe[T models.Identifiable](items []T) []T {
	seen := newKeySet(nil)
	out := make([]T, 0, len(items))
	for _, item := range items {
		ids := EffectiveIDs(item)
		duplicate := !ids.IsEmpty() && seen.contains(ids)
		seen.add(ids)
		if !duplicate {
			out = append(out, item)
		}
	}
	return out
}

// FilterMissingIDs drops items that carry no identifier
func FilterMissingIDs[T models.Identifiable](items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if !EffectiveIDs(item).IsEmpty() {
			out = append(out, item)
		}
	}
	return out
}

// ReviewKey identifies a review by title and a content fingerprint
func ReviewKey(r models.Review) string {
	ids := EffectiveIDs(r)
	id := ids.IMDB
	if id == "" {
		id = ids.AnyID()
	}
	return id + "|" + utils.Truncate(r.Content, reviewContentPrefix) + ":" + strconv.Itoa(len(r.Content))
}

// FilterReviewsChanged returns the source reviews the target does not already hold
func FilterReviewsChanged(source, target []models.Review) []models.Review {
	existing := make(map[string]struct{}, len(target))
	for _, r := range target {
		existing[ReviewKey(r)] = struct{}{}
	}

	var out []models.Review
	for _, r := range source {
		if _, ok := existing[ReviewKey(r)]; ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FilterRatingsChanged returns the source ratings the target lacks or holds with another value
func FilterRatingsChanged(source, target []models.Rating, idx IDIndex) []models.Rating {
	values := make(map[string]uint8)
	canonical := make(map[*models.MediaIDs]uint8)
	for _, r := range target {
		ids := EffectiveIDs(r)
		for _, key := range ids.Keys() {
			values[key] = r.Rating
		}
		if idx != nil {
			if rec := idx.FindByIDs(ids); rec != nil {
				canonical[rec] = r.Rating
			}
		}
	}

	var out []models.Rating
	for _, r := range source {
		ids := EffectiveIDs(r)
		if ids.IsEmpty() {
			continue
		}
		current, found := lookupRating(ids, values, canonical, idx)
		if found && current == r.Rating {
			continue
		}
		out = append(out, r)
	}
	return out
}

func lookupRating(ids models.MediaIDs, values map[string]uint8, canonical map[*models.MediaIDs]uint8, idx IDIndex) (uint8, bool) {
	for _, key := range ids.Keys() {
		if v, ok := values[key]; ok {
			return v, true
		}
	}
	if idx == nil {
		return 0, false
	}
	rec := idx.FindByIDs(ids)
	if rec == nil {
		return 0, false
	}
	if v, ok := canonical[rec]; ok {
		return v, true
	}
	for _, key := range rec.Keys() {
		if v, ok := values[key]; ok {
			return v, true
		}
	}
	return 0, false
}
