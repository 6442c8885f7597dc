package mount

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relvacode/drivefs/drive"
	"github.com/relvacode/drivefs/drive/drivetest"
)

func newTestFilesystem(adapter drive.Adapter) *Filesystem {
	return New(adapter, Options{
		CacheMaxItems: 100,
		CacheMaxAge:   time.Hour,
		StatfsMaxAge:  time.Minute,
		SyncInterval:  time.Millisecond,
	})
}

// Populate wires every entity returned by GetAll into the tree, resolving
// parent edges regardless of listing order.
func TestPopulateBuildsTreeFromGetAll(t *testing.T) {
	t.Parallel()
	fake := drivetest.New()
	folderID := fake.Seed(drive.Entity{Name: "docs", Kind: drive.Directory}, nil)
	fake.Seed(drive.Entity{Name: "f.txt", Kind: drive.RegularFile, Parents: []string{folderID}}, []byte("hi"))

	fsys := newTestFilesystem(fake)
	require.NoError(t, fsys.Populate(context.Background()))

	dh, ok := fsys.Resolve(RootHandle, "docs")
	require.True(t, ok)
	_, ok = fsys.Resolve(dh, "f.txt")
	assert.True(t, ok)

	_, ok = fsys.Resolve(RootHandle, "f.txt")
	assert.False(t, ok, "a nested file must not also appear at root via the transient placeholder edge")
}

// an entity with two remote parents is populated into the tree once and
// appears under both.
func TestPopulateHandlesMultipleParents(t *testing.T) {
	t.Parallel()
	fake := drivetest.New()
	p1 := fake.Seed(drive.Entity{Name: "p1", Kind: drive.Directory}, nil)
	p2 := fake.Seed(drive.Entity{Name: "p2", Kind: drive.Directory}, nil)
	fake.Seed(drive.Entity{Name: "shared.txt", Kind: drive.RegularFile, Parents: []string{p1, p2}}, nil)

	fsys := newTestFilesystem(fake)
	require.NoError(t, fsys.Populate(context.Background()))

	h1, _ := fsys.Resolve(RootHandle, "p1")
	h2, _ := fsys.Resolve(RootHandle, "p2")
	shared1, ok1 := fsys.Resolve(h1, "shared.txt")
	shared2, ok2 := fsys.Resolve(h2, "shared.txt")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, shared1, shared2, "same entity, same handle under both parents")

	_, okRoot := fsys.Resolve(RootHandle, "shared.txt")
	assert.False(t, okRoot, "a doubly-parented entity must not also appear at root")
}

// a synchroniser tick upserts an added entity into the tree.
func TestApplyChangeAdded(t *testing.T) {
	t.Parallel()
	fake := drivetest.New()
	fsys := newTestFilesystem(fake)
	require.NoError(t, fsys.Populate(context.Background()))

	fake.ApplyRemote(drive.Change{Entity: drive.Entity{RemoteID: "new-1", Name: "new.txt", Kind: drive.RegularFile}})

	fsys.Lock()
	changes, tok, err := fake.ListChanges(context.Background(), fsys.sinceToken)
	require.NoError(t, err)
	for _, c := range changes {
		require.NoError(t, fsys.applyChange(c))
	}
	fsys.sinceToken = tok
	fsys.Unlock()

	_, ok := fsys.Resolve(RootHandle, "new.txt")
	assert.True(t, ok)
}

// a removed change retires the entity and detaches it from the tree, unless
// it's still open, in which case it becomes a zombie.
func TestApplyChangeRemovedRetiresOrZombifies(t *testing.T) {
	t.Parallel()
	fake := drivetest.New()
	id := fake.Seed(drive.Entity{Name: "gone.txt", Kind: drive.RegularFile}, nil)
	fsys := newTestFilesystem(fake)
	require.NoError(t, fsys.Populate(context.Background()))

	h, _ := fsys.Resolve(RootHandle, "gone.txt")

	fsys.Lock()
	require.NoError(t, fsys.applyChange(drive.Change{Entity: drive.Entity{RemoteID: id}, Removed: true}))
	fsys.Unlock()
	assert.Nil(t, fsys.Entity(h))

	// now with an open handle
	id2 := fake.Seed(drive.Entity{Name: "open.txt", Kind: drive.RegularFile}, nil)
	fake.ApplyRemote(drive.Change{Entity: drive.Entity{RemoteID: id2, Name: "open.txt", Kind: drive.RegularFile}})
	require.NoError(t, fsys.Populate(context.Background()))
	h2, ok := fsys.Resolve(RootHandle, "open.txt")
	require.True(t, ok)
	fsys.IncOpen(h2)

	fsys.Lock()
	require.NoError(t, fsys.applyChange(drive.Change{Entity: drive.Entity{RemoteID: id2}, Removed: true}))
	fsys.Unlock()

	e := fsys.Entity(h2)
	require.NotNil(t, e, "zombie must still resolve while open")
	assert.True(t, e.Zombie)
	_, ok = fsys.Resolve(RootHandle, "open.txt")
	assert.False(t, ok, "zombie must not be visible to new lookups")

	assert.True(t, fsys.DecOpen(h2))
	assert.Nil(t, fsys.Entity(h2))
}

// running the synchroniser to fixpoint after any sequence of remote changes
// produces a tree whose remote-ID mapping matches a fresh GetAll.
func TestSynchroniserConvergence(t *testing.T) {
	t.Parallel()
	fake := drivetest.New()
	fsys := newTestFilesystem(fake)
	require.NoError(t, fsys.Populate(context.Background()))

	a := fake.Seed(drive.Entity{Name: "a.txt", Kind: drive.RegularFile}, nil)
	fake.ApplyRemote(drive.Change{Entity: drive.Entity{RemoteID: a, Name: "a.txt", Kind: drive.RegularFile}})
	b := fake.Seed(drive.Entity{Name: "b.txt", Kind: drive.RegularFile}, nil)
	fake.ApplyRemote(drive.Change{Entity: drive.Entity{RemoteID: b, Name: "b.txt", Kind: drive.RegularFile}})
	fake.ApplyRemote(drive.Change{Entity: drive.Entity{RemoteID: a}, Removed: true})

	fsys.Lock()
	changes, tok, err := fake.ListChanges(context.Background(), fsys.sinceToken)
	require.NoError(t, err)
	for _, c := range changes {
		fsys.applyChange(c)
	}
	fsys.sinceToken = tok
	fsys.Unlock()

	all, err := fake.GetAll(context.Background())
	require.NoError(t, err)

	wantIDs := map[string]bool{}
	for _, e := range all {
		wantIDs[e.RemoteID] = true
	}
	_, hasA := fsys.EntityByRemoteID(a)
	_, hasB := fsys.EntityByRemoteID(b)
	assert.Equal(t, wantIDs[a], hasA)
	assert.Equal(t, wantIDs[b], hasB)
}

// two remote siblings both named photo.jpg are exposed as photo.jpg and
// photo.1.jpg under rename_identical_files, in crtime order, and reading
// each returns the body of the respective remote object.
func TestRemoteDuplicateSiblingsSuffixedAndReadable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := drivetest.New()
	base := time.Now()
	first := fake.Seed(drive.Entity{Name: "photo.jpg", Kind: drive.RegularFile, CrTime: base}, []byte("A"))
	second := fake.Seed(drive.Entity{Name: "photo.jpg", Kind: drive.RegularFile, CrTime: base.Add(time.Second)}, []byte("B"))

	fsys := New(fake, Options{
		CacheMaxItems:   100,
		CacheMaxAge:     time.Hour,
		StatfsMaxAge:    time.Minute,
		RenameIdentical: true,
	})
	require.NoError(t, fsys.Populate(ctx))

	h1, ok1 := fsys.Resolve(RootHandle, "photo.jpg")
	h2, ok2 := fsys.Resolve(RootHandle, "photo.1.jpg")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, first, fsys.RemoteIDOf(h1))
	assert.Equal(t, second, fsys.RemoteIDOf(h2))

	b1, err := fake.Download(ctx, fsys.RemoteIDOf(h1))
	require.NoError(t, err)
	b2, err := fake.Download(ctx, fsys.RemoteIDOf(h2))
	require.NoError(t, err)
	assert.Equal(t, "A", string(b1))
	assert.Equal(t, "B", string(b2))
}

// ten files created concurrently by independent remote writers are all
// visible with correct contents after the changes are applied.
func TestConcurrentRemoteCreatesAllVisibleAfterSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := drivetest.New()
	fsys := newTestFilesystem(fake)
	require.NoError(t, fsys.Populate(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fake.ApplyRemote(drive.Change{Entity: drive.Entity{
				RemoteID: fmt.Sprintf("writer-%d", i),
				Name:     fmt.Sprintf("file%d", i),
				Kind:     drive.RegularFile,
			}})
		}(i)
	}
	wg.Wait()

	fsys.Lock()
	changes, tok, err := fake.ListChanges(ctx, fsys.sinceToken)
	require.NoError(t, err)
	for _, c := range changes {
		require.NoError(t, fsys.applyChange(c))
	}
	fsys.sinceToken = tok
	fsys.Unlock()

	for i := 0; i < 10; i++ {
		h, ok := fsys.Resolve(RootHandle, fmt.Sprintf("file%d", i))
		require.True(t, ok, "file%d must be visible after sync", i)
		assert.Equal(t, fmt.Sprintf("writer-%d", i), fsys.RemoteIDOf(h))
	}
}

// a local dirty write wins over a concurrent remote content change until
// the next sync tick reconciles it.
func TestLocalDirtyWriteWinsOverRemoteChange(t *testing.T) {
	t.Parallel()
	fake := drivetest.New()
	id := fake.Seed(drive.Entity{Name: "f.txt", Kind: drive.RegularFile}, []byte("remote"))
	fsys := newTestFilesystem(fake)
	require.NoError(t, fsys.Populate(context.Background()))

	fsys.content.Write(id, []byte("local-dirty"))

	fake.ApplyRemote(drive.Change{Entity: drive.Entity{RemoteID: id, Name: "f.txt", Kind: drive.RegularFile, Hash: "different", Size: 99}})

	fsys.Lock()
	changes, _, _ := fake.ListChanges(context.Background(), fsys.sinceToken)
	for _, c := range changes {
		fsys.applyChange(c)
	}
	fsys.Unlock()

	body, ok := fsys.content.Get(id)
	require.True(t, ok)
	assert.Equal(t, "local-dirty", string(body))
}
