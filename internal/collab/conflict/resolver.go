package conflict

import (
	"sort"
	"time"

	"naskahcollab/internal/collab/content"
	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/idgen"
)

// Resolver merges a conflicting change set by replaying it in timestamp order.
type Resolver struct {
	ids idgen.Generator
}

func NewResolver(ids idgen.Generator) Resolver {
	if ids == nil {
		ids = idgen.Default
	}
	return Resolver{ids: ids}
}

// Resolve folds conflicts plus change over base, oldest first. Changes with
// equal timestamps keep their input order (conflicts in buffer order, then
// change); no other tie-break exists. The strategy is always merge.
func (r Resolver) Resolve(base string, conflicts []model.Change, change model.Change, resolvedBy string, now time.Time) model.ConflictResolution {
	set := make([]model.Change, 0, len(conflicts)+1)
	set = append(set, conflicts...)
	set = append(set, change)

	ordered := make([]model.Change, len(set))
	copy(ordered, set)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	return model.ConflictResolution{
		ConflictID:   r.ids.New(),
		Changes:      set,
		Resolution:   model.ResolutionMerge,
		ResolvedBy:   resolvedBy,
		ResolvedAt:   now,
		FinalContent: content.Fold(base, ordered),
	}
}
