package mount

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relvacode/drivefs/drive"
)

// Entity is a node in the tree: a directory, regular file, or special
// document. All fields are protected by the owning Tree's
// lock, not a per-entity lock - the whole tree is modeled as one
// exclusively-locked structure, matching a single-threaded request-loop
// assumption.
type Entity struct {
	Handle   Handle
	RemoteID string // empty until the first successful upload
	Kind     drive.Kind
	Name     string // the remote object's name, unsuffixed
	MimeType string

	Size uint64
	Mode uint32 // permission bits only; sourced from setattr, never from Drive

	ATime, MTime, CTime, CrTime time.Time

	Parents []Handle

	// Zombie is set when the synchroniser learns the remote object was
	// removed while a local file descriptor still references it. A zombie
	// continues serving existing handles but resolves to not_found for new
	// lookups/opens, and is fully retired once OpenCount drops to zero.
	Zombie    bool
	OpenCount int

	// HasUploaded records that the entity exists remotely; every
	// constructor in this package sets it. Content dirtiness is not tracked
	// here - it lives in the content cache, keyed by RemoteID.
	HasUploaded bool
}

// IsDir reports whether the entity is a directory.
func (e *Entity) IsDir() bool { return e.Kind == drive.Directory }

// ChildEntry is one visible (name, handle) pair returned by Tree.Children.
type ChildEntry struct {
	Name   string
	Handle Handle
}

// CollisionPolicy selects how same-named siblings are exposed.
type CollisionPolicy int

const (
	// HideDuplicates keeps only one entity of a (parent, name) collision
	// visible: the one with the earliest CrTime, ties broken by remote ID.
	// Insertion order does not decide which one is shown.
	HideDuplicates CollisionPolicy = iota
	// RenameIdenticalFiles exposes every entity, suffixing the 2nd..Nth
	// with a numeric disambiguator.
	RenameIdenticalFiles
)

// Tree owns every Entity and the edges between them. The
// embedded RWMutex is the single exclusive lock: the
// request loop and the delta synchroniser both hold it for the duration of
// whatever they're doing, including any adapter call made while it's held.
// All exported methods assume the caller already holds the lock (via Lock/
// RLock) rather than taking it internally, so callers coordinate access
// explicitly.
type Tree struct {
	sync.RWMutex

	alloc *allocator

	entities   map[Handle]*Entity
	childrenOf map[Handle][]Handle

	collision     CollisionPolicy
	addExtensions bool
}

// NewTree creates a tree containing only the root entity (handle 1).
func NewTree(collision CollisionPolicy, addExtensionsToSpecialFiles bool) *Tree {
	t := &Tree{
		alloc:         newAllocator(),
		entities:      make(map[Handle]*Entity),
		childrenOf:    make(map[Handle][]Handle),
		collision:     collision,
		addExtensions: addExtensionsToSpecialFiles,
	}
	now := time.Now()
	root := &Entity{
		Handle:      RootHandle,
		Kind:        drive.Directory,
		Mode:        0755,
		ATime:       now,
		MTime:       now,
		CTime:       now,
		CrTime:      now,
		HasUploaded: true,
	}
	t.alloc.AllocReserved(RootHandle, "")
	t.entities[RootHandle] = root
	return t
}

// NewSyntheticContainer builds a directory entity for one of the reserved
// low handles (trash, shared-with-me) and wires it as a child of root.
func (t *Tree) NewSyntheticContainer(h Handle, name string) *Entity {
	now := time.Now()
	e := &Entity{
		Handle:      h,
		Kind:        drive.Directory,
		Name:        name,
		Mode:        0755,
		ATime:       now,
		MTime:       now,
		CTime:       now,
		CrTime:      now,
		Parents:     []Handle{RootHandle},
		HasUploaded: true,
	}
	t.alloc.AllocReserved(h, "")
	t.entities[h] = e
	t.childrenOf[RootHandle] = append(t.childrenOf[RootHandle], h)
	return e
}

// Entity returns the entity bound to h, or nil.
func (t *Tree) Entity(h Handle) *Entity {
	return t.entities[h]
}

// EntityByRemoteID resolves a remote ID to its entity, if any handle has
// been bound to it.
func (t *Tree) EntityByRemoteID(remoteID string) (*Entity, bool) {
	h, ok := t.alloc.Lookup(remoteID)
	if !ok {
		return nil, false
	}
	e := t.entities[h]
	return e, e != nil
}

// NewHandle allocates a fresh handle bound to remoteID.
func (t *Tree) NewHandle(remoteID string) Handle {
	return t.alloc.Alloc(remoteID)
}

// RemoteIDOf returns the remote ID bound to h.
func (t *Tree) RemoteIDOf(h Handle) string {
	return t.alloc.RemoteID(h)
}

// Insert adds e as a new child of parent. e.Handle must already be set
// (callers obtain one via NewHandle or a reserved constant). If e is
// already present under parent, Insert is a no-op for that edge.
func (t *Tree) Insert(e *Entity, parent Handle) {
	t.entities[e.Handle] = e
	if !containsHandle(e.Parents, parent) {
		e.Parents = append(e.Parents, parent)
	}
	if !containsHandle(t.childrenOf[parent], e.Handle) {
		t.childrenOf[parent] = append(t.childrenOf[parent], e.Handle)
	}
}

// DetachParent removes the (parent, handle) edge, reporting whether the
// entity has any parents left afterward. It does not retire the entity -
// callers decide what "last parent removed" means (delete remotely, then
// Remove).
func (t *Tree) DetachParent(h Handle, parent Handle) (parentsLeft int) {
	e := t.entities[h]
	if e == nil {
		return 0
	}
	e.Parents = removeHandle(e.Parents, parent)
	t.childrenOf[parent] = removeHandle(t.childrenOf[parent], h)
	return len(e.Parents)
}

// Remove fully retires h: it is deleted from every parent's child list and
// its handle is permanently retired.
func (t *Tree) Remove(h Handle) {
	if e := t.entities[h]; e != nil {
		for _, p := range append([]Handle(nil), e.Parents...) {
			t.childrenOf[p] = removeHandle(t.childrenOf[p], h)
		}
	}
	delete(t.entities, h)
	t.alloc.Retire(h)
}

// Rename moves h from (oldParent) to (newParent, newName). If oldParent
// equals newParent this only changes the display name. Name is a property
// of the entity itself, not of one edge - identical to how Drive's own
// metadata model works.
func (t *Tree) Rename(h Handle, oldParent, newParent Handle, newName string) {
	e := t.entities[h]
	if e == nil {
		return
	}
	if oldParent != newParent {
		t.childrenOf[oldParent] = removeHandle(t.childrenOf[oldParent], h)
		t.childrenOf[newParent] = append(t.childrenOf[newParent], h)
		found := false
		for i, p := range e.Parents {
			if p == oldParent {
				e.Parents[i] = newParent
				found = true
				break
			}
		}
		if !found {
			e.Parents = append(e.Parents, newParent)
		}
	}
	e.Name = newName
}

// Resolve looks up the visible child of parent named name, honoring the
// configured collision policy.
func (t *Tree) Resolve(parent Handle, name string) (Handle, bool) {
	for _, c := range t.Children(parent) {
		if c.Name == name {
			return c.Handle, true
		}
	}
	return 0, false
}

// Children returns every visible (name, handle) pair under parent, sorted
// lexicographically by name.
func (t *Tree) Children(parent Handle) []ChildEntry {
	groups := make(map[string][]Handle)
	var order []string
	for _, h := range t.childrenOf[parent] {
		e := t.entities[h]
		if e == nil || e.Zombie {
			continue
		}
		name := t.displayBaseName(e)
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], h)
	}

	var out []ChildEntry
	for _, name := range order {
		handles := groups[name]
		t.sortByCrTimeThenRemoteID(handles)
		if len(handles) == 1 || t.collision == HideDuplicates {
			out = append(out, ChildEntry{Name: name, Handle: handles[0]})
			continue
		}
		for i, h := range handles {
			out = append(out, ChildEntry{Name: suffixName(name, i), Handle: h})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Tree) sortByCrTimeThenRemoteID(handles []Handle) {
	sort.SliceStable(handles, func(i, j int) bool {
		ei, ej := t.entities[handles[i]], t.entities[handles[j]]
		if !ei.CrTime.Equal(ej.CrTime) {
			return ei.CrTime.Before(ej.CrTime)
		}
		return t.alloc.RemoteID(handles[i]) < t.alloc.RemoteID(handles[j])
	})
}

// suffixName implements the suffix placement rule: before the
// last extension if there is one, otherwise appended to the bare name.
func suffixName(name string, index int) string {
	if index == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "." + strconv.Itoa(index) + ext
}

func (t *Tree) displayBaseName(e *Entity) string {
	if !t.addExtensions || e.Kind != drive.SpecialDocument {
		return e.Name
	}
	if ext, ok := specialDocumentExtensions[e.MimeType]; ok {
		return e.Name + ext
	}
	return e.Name
}

// specialDocumentExtensions maps Google Workspace native mime types to the
// extension shown when add_extensions_to_special_files is set, grounded in
// the mime types the Drive API itself defines for these formats.
var specialDocumentExtensions = map[string]string{
	"application/vnd.google-apps.document":     ".gdoc",
	"application/vnd.google-apps.spreadsheet":  ".gsheet",
	"application/vnd.google-apps.presentation": ".gslides",
	"application/vnd.google-apps.drawing":      ".gdraw",
	"application/vnd.google-apps.site":         ".gsite",
}

// IncOpen increments h's open-file-descriptor count.
func (t *Tree) IncOpen(h Handle) {
	if e := t.entities[h]; e != nil {
		e.OpenCount++
	}
}

// DecOpen decrements h's open count and, if the entity was a zombie and
// this was the last reference, fully retires it. Returns true if retirement
// happened.
func (t *Tree) DecOpen(h Handle) bool {
	e := t.entities[h]
	if e == nil {
		return false
	}
	if e.OpenCount > 0 {
		e.OpenCount--
	}
	if e.Zombie && e.OpenCount == 0 {
		t.Remove(h)
		return true
	}
	return false
}

func containsHandle(haystack []Handle, needle Handle) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func removeHandle(haystack []Handle, needle Handle) []Handle {
	out := haystack[:0]
	for _, h := range haystack {
		if h != needle {
			out = append(out, h)
		}
	}
	return out
}
