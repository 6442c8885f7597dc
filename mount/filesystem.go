package mount

import (
	"context"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/relvacode/drivefs/drive"
	"github.com/relvacode/drivefs/mount/upload"
)

// Options configures a Filesystem. It mirrors the subset of
// cmd/common.Config that the core itself consumes - cmd/drivefs is
// responsible for the rest (mountpoint, cache directory path, log level).
type Options struct {
	CacheMaxItems   int
	CacheMaxAge     time.Duration
	StatfsMaxAge    time.Duration
	SyncInterval    time.Duration
	RenameIdentical bool
	AddExtensions   bool
	SkipTrash       bool

	// MountOptions are opaque strings forwarded verbatim to the kernel
	// mount; Debug turns on go-fuse protocol tracing.
	MountOptions []string
	Debug        bool
}

// Filesystem is the assembled core: the tree, the content cache, the statfs
// cache, and the adapter collaborator they all drive calls through. It is
// the single point both the FUSE dispatcher (node.go) and the delta
// synchroniser (delta.go) operate on, each serializing through Tree's
// embedded lock.
type Filesystem struct {
	*Tree

	adapter     drive.Adapter
	content     *contentCache
	statfs      *statfsCache
	uploadRetry *upload.Manager
	opts        Options

	// offlineMu guards offline independently of the tree lock: dispatcher
	// code needs to read it without blocking on in-flight sync work.
	offlineMu sync.RWMutex
	offline   bool

	sinceToken string
}

// New wires a Filesystem around adapter, ready to be populated by an
// initial GetAll and then kept in sync by RunDeltaLoop.
func New(adapter drive.Adapter, opts Options) *Filesystem {
	collision := HideDuplicates
	if opts.RenameIdentical {
		collision = RenameIdenticalFiles
	}
	fs := &Filesystem{
		Tree:    NewTree(collision, opts.AddExtensions),
		adapter: adapter,
		content: newContentCache(opts.CacheMaxItems, opts.CacheMaxAge),
		statfs:  newStatfsCache(opts.StatfsMaxAge),
		opts:    opts,
	}
	fs.NewSyntheticContainer(TrashHandle, ".Trash")
	fs.NewSyntheticContainer(SharedWithMeHandle, "Shared with me")
	return fs
}

// IsOffline reports whether the last delta poll failed. While offline,
// reads degrade to cached state: a cache miss fails fast with io_error
// (downloadLocked) instead of attempting a download against a remote that
// is known to be unreachable.
func (fs *Filesystem) IsOffline() bool {
	fs.offlineMu.RLock()
	defer fs.offlineMu.RUnlock()
	return fs.offline
}

func (fs *Filesystem) setOffline(v bool) {
	fs.offlineMu.Lock()
	defer fs.offlineMu.Unlock()
	fs.offline = v
}

// EnableUploadRetry wires a durable background retry queue for uploads that
// fail on their synchronous flush/release attempt - the synchronous flush
// contract is otherwise unaffected, this only improves eventual consistency
// after the kernel has already been told about the failure.
func (fs *Filesystem) EnableUploadRetry(db *bolt.DB, interval time.Duration) error {
	mgr, err := upload.NewManager(db, fs.retryUpdate, interval)
	if err != nil {
		return err
	}
	fs.uploadRetry = mgr
	return nil
}

func (fs *Filesystem) retryUpdate(ctx context.Context, remoteID string, body []byte) error {
	fs.Lock()
	_, stillPresent := fs.EntityByRemoteID(remoteID)
	fs.Unlock()
	if !stillPresent {
		return nil
	}

	if err := fs.adapter.Update(ctx, remoteID, body); err != nil {
		return err
	}
	fs.content.ClearDirty(remoteID)
	fs.statfs.Invalidate()
	return nil
}
