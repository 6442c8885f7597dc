package mount

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	fusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"
)

// CheckMountpoint implements the mount_check health probe: it refuses to
// mount over a directory that doesn't exist or is already in use.
func CheckMountpoint(mountpoint string) error {
	st, err := os.Stat(mountpoint)
	if err != nil {
		return fmt.Errorf("mountpoint: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("mountpoint %q is not a directory", mountpoint)
	}
	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		return fmt.Errorf("mountpoint: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("mountpoint %q is not empty (already mounted?)", mountpoint)
	}
	return nil
}

// Server wraps the running FUSE server and the background synchroniser
// goroutine it started, so callers have one thing to wait on and one thing
// to tear down.
type Server struct {
	*fuse.Server
	cancel context.CancelFunc
}

// Mount performs the initial listing, starts the delta synchroniser, and
// registers fsys as a FUSE endpoint at mountpoint. MountCheck is the
// caller's responsibility before invoking Mount.
func Mount(ctx context.Context, fsys *Filesystem, mountpoint string, syncInterval time.Duration) (*Server, error) {
	if err := fsys.Populate(ctx); err != nil {
		return nil, err
	}

	syncCtx, cancel := context.WithCancel(ctx)
	go fsys.RunDeltaLoop(syncCtx, syncInterval)

	root := newNode(fsys, RootHandle)
	second := time.Second
	server, err := fusefs.Mount(mountpoint, root, &fusefs.Options{
		EntryTimeout: &second,
		AttrTimeout:  &second,
		MountOptions: fuse.MountOptions{
			Name:          "drivefs",
			FsName:        "drivefs",
			DisableXAttrs: true,
			MaxBackground: 1024,
			Options:       fsys.opts.MountOptions,
			Debug:         fsys.opts.Debug,
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &Server{Server: server, cancel: cancel}, nil
}

// Unmount stops the delta synchroniser and unmounts the filesystem.
func (s *Server) Unmount() error {
	s.cancel()
	return s.Server.Unmount()
}

// WaitForUnmountSignal blocks until the server is unmounted, either by the
// kernel (user ran fusermount -u) or by SIGINT/SIGTERM, in which case it
// unmounts on the caller's behalf.
func WaitForUnmountSignal(s *Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received signal, unmounting")
		if err := s.Unmount(); err != nil {
			log.Error().Err(err).Msg("failed to unmount cleanly")
		}
	}()
	s.Wait()
}
