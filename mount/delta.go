package mount

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relvacode/drivefs/drive"
)

// Populate performs the initial full listing,
// wiring every returned entity into the tree before the mount is exposed to
// the kernel. It must run before RunDeltaLoop.
func (fs *Filesystem) Populate(ctx context.Context) error {
	entities, err := fs.adapter.GetAll(ctx)
	if err != nil {
		return err
	}

	fs.Lock()
	defer fs.Unlock()

	// Two passes: first create every entity under a transient placeholder
	// edge (so parent lookups in the second pass always succeed regardless
	// of listing order), then detach that placeholder and wire the real
	// parent edge(s) - the same detach-then-insert pattern applyChange uses
	// for a remote move (see the wantHandles/DetachParent loop below).
	for _, e := range entities {
		if _, ok := fs.EntityByRemoteID(e.RemoteID); ok {
			continue
		}
		h := fs.NewHandle(e.RemoteID)
		fs.Insert(entityFrom(h, e), firstParentPlaceholder)
	}
	for _, e := range entities {
		ent, ok := fs.EntityByRemoteID(e.RemoteID)
		if !ok {
			continue
		}
		fs.DetachParent(ent.Handle, firstParentPlaceholder)
		for _, p := range e.Parents {
			if ph, ok := fs.EntityByRemoteID(p); ok {
				fs.Insert(ent, ph.Handle)
			} else if p == "" {
				fs.Insert(ent, RootHandle)
			}
		}
		if len(ent.Parents) == 0 {
			fs.Insert(ent, RootHandle)
		}
	}

	log.Info().Int("count", len(entities)).Msg("populated tree from initial listing")
	return nil
}

// firstParentPlaceholder is used only transiently during Populate's first
// pass; every entity's real parent set is rebuilt in the second pass.
const firstParentPlaceholder Handle = RootHandle

func entityFrom(h Handle, e drive.Entity) *Entity {
	return &Entity{
		Handle:      h,
		RemoteID:    e.RemoteID,
		Kind:        e.Kind,
		Name:        e.Name,
		MimeType:    e.MimeType,
		Size:        e.Size,
		Mode:        defaultModeFor(e.Kind),
		ATime:       e.ModTime,
		MTime:       e.ModTime,
		CTime:       e.ModTime,
		CrTime:      e.CrTime,
		HasUploaded: true,
	}
}

func defaultModeFor(k drive.Kind) uint32 {
	if k == drive.Directory {
		return 0755
	}
	return 0644
}

// RunDeltaLoop polls the adapter for changes every interval until ctx is
// cancelled, applying each one under the tree lock. It is meant to run as a
// goroutine.
func (fs *Filesystem) RunDeltaLoop(ctx context.Context, interval time.Duration) {
	log.Trace().Msg("starting delta loop")
	for {
		changes, nextToken, err := fs.adapter.ListChanges(ctx, fs.sinceToken)
		if err != nil {
			log.Error().Err(err).Msg("delta poll failed, marking filesystem offline")
			fs.setOffline(true)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
				continue
			}
		}

		// As per the API docs, only the last delta received for a given ID
		// within one batch should be applied.
		byID := make(map[string]drive.Change, len(changes))
		for _, c := range changes {
			byID[c.RemoteID] = c
		}

		fs.Lock()
		var retryNonEmptyDir []drive.Change
		for _, c := range byID {
			if err := fs.applyChange(c); err != nil {
				if err == ErrNotEmpty {
					retryNonEmptyDir = append(retryNonEmptyDir, c)
					continue
				}
				log.Error().Err(err).Str("remoteID", c.RemoteID).Msg("failed to apply change")
			}
		}
		for _, c := range retryNonEmptyDir {
			// Second pass, after siblings have had a chance to be removed
			// too; failures here are logged and otherwise ignored.
			if err := fs.applyChange(c); err != nil {
				log.Warn().Err(err).Str("remoteID", c.RemoteID).Msg("still could not apply change")
			}
		}
		fs.Unlock()

		fs.sinceToken = nextToken
		fs.statfs.Invalidate()
		fs.setOffline(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// applyChange diagnoses and applies one remote change to the tree. Callers
// must hold the tree lock.
func (fs *Filesystem) applyChange(c drive.Change) error {
	existing, hadEntity := fs.EntityByRemoteID(c.RemoteID)

	if c.Removed || c.Trashed {
		if !hadEntity {
			return nil
		}
		if existing.IsDir() && len(fs.Children(existing.Handle)) > 0 {
			return ErrNotEmpty
		}
		if existing.OpenCount > 0 {
			existing.Zombie = true
			for _, p := range append([]Handle(nil), existing.Parents...) {
				fs.DetachParent(existing.Handle, p)
			}
			return nil
		}
		fs.Remove(existing.Handle)
		fs.content.Evict(c.RemoteID)
		return nil
	}

	if !hadEntity {
		var parents []Handle
		for _, pid := range c.Parents {
			if ph, ok := fs.EntityByRemoteID(pid); ok {
				parents = append(parents, ph.Handle)
			}
		}
		if len(parents) == 0 {
			if len(c.Parents) > 0 {
				// None of the declared parents are in our tree yet; they
				// will arrive in a later batch or on the next full sync.
				return nil
			}
			parents = []Handle{RootHandle}
		}
		h := fs.NewHandle(c.RemoteID)
		e := entityFrom(h, c.Entity)
		for _, p := range parents {
			fs.Insert(e, p)
		}
		return nil
	}

	// Was it renamed, moved, or does it now have a different parent set?
	// Every parent RemoteID that resolves in our tree is authoritative;
	// one that doesn't yet resolve is left alone rather than dropped, so a
	// late-arriving parent edge isn't mistaken for a removal.
	if len(c.Parents) > 0 {
		wantHandles := make(map[Handle]bool, len(c.Parents))
		for _, pid := range c.Parents {
			if ph, ok := fs.EntityByRemoteID(pid); ok {
				wantHandles[ph.Handle] = true
			}
		}
		for _, have := range append([]Handle(nil), existing.Parents...) {
			if !wantHandles[have] {
				fs.DetachParent(existing.Handle, have)
			}
		}
		for want := range wantHandles {
			if !containsHandle(existing.Parents, want) {
				fs.Insert(existing, want)
			}
		}
		if existing.Name != c.Name {
			existing.Name = c.Name
		}
		if len(existing.Parents) == 0 {
			// Every previously-known parent was removed in this batch and
			// no new one resolved yet; keep the entity reachable from root
			// rather than orphaning it outright.
			fs.Insert(existing, RootHandle)
		}
	} else if existing.Name != c.Name {
		existing.Name = c.Name
	}

	// Did the content change remotely? Local dirty writes always win;
	// reconciling a genuine edit conflict is left to the user.
	if !existing.IsDir() && c.Hash != "" && !fs.content.IsDirty(c.RemoteID) {
		existing.Size = c.Size
		existing.MTime = c.ModTime
		fs.content.Evict(c.RemoteID)
	}

	return nil
}
