package planner

// Diff compares a local set against a remote set.
func Diff(local, remote Set) Plan {
	return Plan{
		Deletes: remote.Minus(local).Sorted(),
		Uploads: local.Minus(remote).Sorted(),
	}
}

// Items orders the plan into the calls to issue: deletions first, then
// uploads. A stale remote pair whose path is about to be uploaded again is
// not deleted, since the upload overwrites the key in place.
func (p Plan) Items() []Item {
	uploading := make(map[string]bool, len(p.Uploads))
	for _, e := range p.Uploads {
		uploading[e.Path] = true
	}
	replaced := make(map[string]bool, len(p.Deletes))

	items := make([]Item, 0, len(p.Deletes)+len(p.Uploads))
	for _, e := range p.Deletes {
		if uploading[e.Path] {
			replaced[e.Path] = true
			continue
		}
		items = append(items, Item{
			Action: ActionDelete,
			Path:   e.Path,
			Hash:   e.Hash,
			Reason: ReasonDeletedLocally,
		})
	}

	for _, e := range p.Uploads {
		reason := ReasonNewFile
		if replaced[e.Path] {
			reason = ReasonChecksumDiffers
		}
		items = append(items, Item{
			Action: ActionUpload,
			Path:   e.Path,
			Hash:   e.Hash,
			Reason: reason,
		})
	}

	return items
}

func (p Plan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Uploads) == 0
}
