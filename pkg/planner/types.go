package planner

import (
	"sort"
)

// FileEntry identifies one version of a file: its slash-separated path
// relative to the sync root and the hex MD5 of its content.
type FileEntry struct {
	Path string
	Hash string
}

// Set is an unordered collection of FileEntry values. A path appears at most
// once on either side of a comparison.
type Set map[FileEntry]struct{}

func NewSet(entries ...FileEntry) Set {
	s := make(Set, len(entries))
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

func (s Set) Add(e FileEntry) {
	s[e] = struct{}{}
}

func (s Set) Has(e FileEntry) bool {
	_, ok := s[e]
	return ok
}

// Minus returns the entries of s whose (path, hash) pair is not in other.
func (s Set) Minus(other Set) Set {
	out := make(Set)
	for e := range s {
		if !other.Has(e) {
			out.Add(e)
		}
	}
	return out
}

func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for e := range s {
		if !other.Has(e) {
			return false
		}
	}
	return true
}

// Sorted returns the entries ordered by path.
func (s Set) Sorted() []FileEntry {
	entries := make([]FileEntry, 0, len(s))
	for e := range s {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].Hash < entries[j].Hash
	})
	return entries
}

type Action string

const (
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
)

const (
	ReasonNewFile         = "new file"
	ReasonChecksumDiffers = "checksum differs"
	ReasonDeletedLocally  = "deleted locally"
)

// Item is one mutating call the synchronizer will issue.
type Item struct {
	Action Action
	Path   string
	Hash   string
	Reason string
}

// Plan is the difference between a local and a remote set.
type Plan struct {
	// Deletes is remote minus local: pairs present remotely that no local
	// pair matches, covering both removed and changed paths.
	Deletes []FileEntry
	// Uploads is local minus remote: new paths and changed paths.
	Uploads []FileEntry
}
