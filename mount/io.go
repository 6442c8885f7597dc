package mount

import (
	"context"
	"errors"

	"github.com/relvacode/drivefs/drive"
)

// errUnreachable marks a download skipped because the last delta poll
// failed; attempting it would block the request loop on a remote that is
// known to be down.
var errUnreachable = errors.New("remote unreachable")

// downloadLocked fetches an entity's body from the adapter. Callers must
// hold the tree lock; the single lock is held across a blocking network
// call in exchange for a far simpler implementation. While the filesystem
// is offline a cache miss fails fast with a transport error (io_error at
// the kernel boundary) - cached bodies keep being served, only the
// download path is cut.
func (fs *Filesystem) downloadLocked(ctx context.Context, e *Entity) ([]byte, error) {
	if fs.IsOffline() {
		return nil, drive.NewError(drive.KindTransport, "Download", errUnreachable)
	}
	return fs.adapter.Download(ctx, e.RemoteID)
}

// uploadLocked pushes dirty content to the adapter for an entity that
// already has a remote ID - always true by the time flush runs, since
// create/mkdir obtain one eagerly. Callers must hold the
// tree lock.
func (fs *Filesystem) uploadLocked(ctx context.Context, e *Entity, body []byte) error {
	return fs.adapter.Update(ctx, e.RemoteID, body)
}
