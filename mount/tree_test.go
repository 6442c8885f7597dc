package mount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relvacode/drivefs/drive"
)

func newFile(tr *Tree, parent Handle, name string, crtime time.Time) Handle {
	h := tr.NewHandle(name + "-id")
	tr.Insert(&Entity{
		Handle:      h,
		RemoteID:    name + "-id",
		Kind:        drive.RegularFile,
		Name:        name,
		Mode:        0644,
		CrTime:      crtime,
		HasUploaded: true,
	}, parent)
	return h
}

// a freshly built tree has only the root.
func TestNewTreeHasOnlyRoot(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	assert.NotNil(t, tr.Entity(RootHandle))
	assert.Empty(t, tr.Entity(RootHandle).Parents)
	assert.Empty(t, tr.Children(RootHandle))
}

// under the default policy, the second of two same-named siblings is hidden
// from Children/Resolve, not deleted from the entity table.
func TestCollisionHideDuplicates(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	base := time.Now()
	first := newFile(tr, RootHandle, "photo.jpg", base)
	newFile(tr, RootHandle, "photo.jpg", base.Add(time.Second))

	children := tr.Children(RootHandle)
	require.Len(t, children, 1)
	assert.Equal(t, "photo.jpg", children[0].Name)
	assert.Equal(t, first, children[0].Handle)

	h, ok := tr.Resolve(RootHandle, "photo.jpg")
	require.True(t, ok)
	assert.Equal(t, first, h)
}

// under rename_identical_files, duplicates are suffixed in crtime order.
func TestCollisionRenameIdenticalFiles(t *testing.T) {
	t.Parallel()
	tr := NewTree(RenameIdenticalFiles, false)
	base := time.Now()
	first := newFile(tr, RootHandle, "photo.jpg", base)
	second := newFile(tr, RootHandle, "photo.jpg", base.Add(time.Second))
	third := newFile(tr, RootHandle, "photo.jpg", base.Add(2*time.Second))

	children := tr.Children(RootHandle)
	require.Len(t, children, 3)

	byName := map[string]Handle{}
	for _, c := range children {
		byName[c.Name] = c.Handle
	}
	assert.Equal(t, first, byName["photo.jpg"])
	assert.Equal(t, second, byName["photo.1.jpg"])
	assert.Equal(t, third, byName["photo.2.jpg"])
}

// same-named files in different parents never receive a suffix, even under
// rename_identical_files.
func TestSameNameDifferentParentsNoSuffix(t *testing.T) {
	t.Parallel()
	tr := NewTree(RenameIdenticalFiles, false)
	d1 := tr.NewHandle("d1")
	tr.Insert(&Entity{Handle: d1, RemoteID: "d1", Kind: drive.Directory, Name: "d1", HasUploaded: true}, RootHandle)
	d2 := tr.NewHandle("d2")
	tr.Insert(&Entity{Handle: d2, RemoteID: "d2", Kind: drive.Directory, Name: "d2", HasUploaded: true}, RootHandle)

	newFile(tr, d1, "p.jpg", time.Now())
	newFile(tr, d2, "p.jpg", time.Now())

	c1 := tr.Children(d1)
	c2 := tr.Children(d2)
	require.Len(t, c1, 1)
	require.Len(t, c2, 1)
	assert.Equal(t, "p.jpg", c1[0].Name)
	assert.Equal(t, "p.jpg", c2[0].Name)
}

// suffix placement: before the last extension, or appended to the bare name
// if there is none.
func TestSuffixName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "photo.jpg", suffixName("photo.jpg", 0))
	assert.Equal(t, "photo.1.jpg", suffixName("photo.jpg", 1))
	assert.Equal(t, "report", suffixName("report", 0))
	assert.Equal(t, "report.1", suffixName("report", 1))
	assert.Equal(t, "archive.tar.gz", suffixName("archive.tar.gz", 0))
	assert.Equal(t, "archive.tar.1.gz", suffixName("archive.tar.gz", 1))
}

// a handle, once retired, is never reissued, and a rebind of the same
// remote ID to a different handle never happens.
func TestHandleRetirementIsPermanent(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	h := newFile(tr, RootHandle, "f", time.Now())
	tr.Remove(h)

	assert.Nil(t, tr.Entity(h))
	assert.True(t, tr.alloc.IsRetired(h))

	next := tr.NewHandle("f2-id")
	assert.NotEqual(t, h, next)
}

// an entity with two parents is visible under both, and unlink under one
// path leaves it visible, with the same handle and body, under the other:
// unlink removes exactly one parent edge.
func TestMultiParentUnlinkRemovesOneEdge(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	p1 := tr.NewHandle("p1")
	tr.Insert(&Entity{Handle: p1, RemoteID: "p1", Kind: drive.Directory, Name: "p1", HasUploaded: true}, RootHandle)
	p2 := tr.NewHandle("p2")
	tr.Insert(&Entity{Handle: p2, RemoteID: "p2", Kind: drive.Directory, Name: "p2", HasUploaded: true}, RootHandle)

	h := tr.NewHandle("shared")
	e := &Entity{Handle: h, RemoteID: "shared", Kind: drive.RegularFile, Name: "f", HasUploaded: true}
	tr.Insert(e, p1)
	tr.Insert(e, p2)

	assert.Len(t, e.Parents, 2)
	_, okA := tr.Resolve(p1, "f")
	_, okB := tr.Resolve(p2, "f")
	assert.True(t, okA)
	assert.True(t, okB)

	left := tr.DetachParent(h, p1)
	assert.Equal(t, 1, left)

	_, okA = tr.Resolve(p1, "f")
	hB, okB := tr.Resolve(p2, "f")
	assert.False(t, okA)
	require.True(t, okB)
	assert.Equal(t, h, hB)
	assert.NotNil(t, tr.Entity(h))
}

// rename(x, x) is a no-op and always succeeds.
func TestRenameNoOp(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	h := newFile(tr, RootHandle, "f", time.Now())
	before := tr.Entity(h).Name

	tr.Rename(h, RootHandle, RootHandle, "f")

	assert.Equal(t, before, tr.Entity(h).Name)
	resolved, ok := tr.Resolve(RootHandle, "f")
	require.True(t, ok)
	assert.Equal(t, h, resolved)
}

// cross-directory rename moves the edge and keeps a single handle.
func TestRenameAcrossDirectories(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	d1 := tr.NewHandle("d1")
	tr.Insert(&Entity{Handle: d1, RemoteID: "d1", Kind: drive.Directory, Name: "d1", HasUploaded: true}, RootHandle)
	d2 := tr.NewHandle("d2")
	tr.Insert(&Entity{Handle: d2, RemoteID: "d2", Kind: drive.Directory, Name: "d2", HasUploaded: true}, RootHandle)

	h := newFile(tr, d1, "f", time.Now())
	tr.Rename(h, d1, d2, "g")

	_, okOld := tr.Resolve(d1, "f")
	newH, okNew := tr.Resolve(d2, "g")
	assert.False(t, okOld)
	require.True(t, okNew)
	assert.Equal(t, h, newH)
}

// readdir lists children sorted lexicographically by name.
func TestChildrenSortedByName(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	newFile(tr, RootHandle, "banana", time.Now())
	newFile(tr, RootHandle, "apple", time.Now())
	newFile(tr, RootHandle, "cherry", time.Now())

	children := tr.Children(RootHandle)
	var names []string
	for _, c := range children {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"apple", "banana", "cherry"}, names)
}

// a zombie entity is hidden from Children immediately, but DecOpen only
// retires it once every open reference has gone away.
func TestZombieHiddenUntilLastClose(t *testing.T) {
	t.Parallel()
	tr := NewTree(HideDuplicates, false)
	h := newFile(tr, RootHandle, "f", time.Now())
	tr.IncOpen(h)
	tr.IncOpen(h)

	e := tr.Entity(h)
	e.Zombie = true

	assert.Empty(t, tr.Children(RootHandle))
	assert.NotNil(t, tr.Entity(h), "zombie entity must still resolve for existing handles")

	assert.False(t, tr.DecOpen(h))
	assert.NotNil(t, tr.Entity(h))

	assert.True(t, tr.DecOpen(h))
	assert.Nil(t, tr.Entity(h))
}
