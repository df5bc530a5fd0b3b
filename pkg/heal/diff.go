package heal

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffSummary counts changed characters between two artifact versions.
type DiffSummary struct {
	Patch     string
	Inserted  int
	Deleted   int
	Unchanged bool
}

// Diff returns a patch from oldSrc to newSrc.
func Diff(oldSrc, newSrc string) DiffSummary {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldSrc, newSrc, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var s DiffSummary
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.Inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			s.Deleted += len(d.Text)
		}
	}
	s.Unchanged = s.Inserted == 0 && s.Deleted == 0
	if !s.Unchanged {
		s.Patch = dmp.PatchToText(dmp.PatchMake(oldSrc, diffs))
	}
	return s
}
