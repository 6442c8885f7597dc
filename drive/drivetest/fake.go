// Package drivetest provides an in-memory fake of drive.Adapter, sufficient
// to exercise the whole core in tests. It behaves like the real
// service in one important way the core's delta synchroniser must cope with:
// the client's own mutations also show up in its own change feed - the
// server makes no distinction between local and remote changes.
package drivetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/relvacode/drivefs/drive"
)

// Fake is a thread-safe in-memory stand-in for a real drive.Adapter.
type Fake struct {
	mu sync.Mutex

	entities map[string]*drive.Entity
	bodies   map[string][]byte
	history  []drive.Change
	quota    drive.Quota
	nextID   int

	// failures lets a test force the next call to a given operation to
	// fail with a specific error, so error-path handling can be
	// exercised deterministically.
	failures map[string]*drive.Error
}

// New returns an empty Fake with a generous default quota.
func New() *Fake {
	return &Fake{
		entities: make(map[string]*drive.Entity),
		bodies:   make(map[string][]byte),
		quota:    drive.Quota{Total: 1 << 40, Used: 0},
		failures: make(map[string]*drive.Error),
	}
}

// FailNext arranges for the next call to op (e.g. "Upload", "Download") to
// return err instead of doing anything.
func (f *Fake) FailNext(op string, err *drive.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *Fake) takeFailure(op string) *drive.Error {
	err, ok := f.failures[op]
	if ok {
		delete(f.failures, op)
	}
	return err
}

// Seed directly installs an entity (and optionally its body) as if it had
// always existed remotely, without generating a change record. Used to set
// up initial-population (GetAll) scenarios.
func (f *Fake) Seed(e drive.Entity, body []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.RemoteID == "" {
		e.RemoteID = f.allocID()
	}
	cp := e
	cp.Parents = append([]string(nil), e.Parents...)
	f.entities[e.RemoteID] = &cp
	if body != nil {
		f.bodies[e.RemoteID] = append([]byte(nil), body...)
	}
	return e.RemoteID
}

// SetQuota overrides the quota reported by Statfs.
func (f *Fake) SetQuota(q drive.Quota) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = q
}

// ApplyRemote simulates a change arriving from some other client: it mutates
// (or deletes) the entity and appends a change record, exactly as a
// background edit on the Drive web UI would.
func (f *Fake) ApplyRemote(c drive.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.Removed {
		delete(f.entities, c.RemoteID)
		delete(f.bodies, c.RemoteID)
	} else {
		cp := c.Entity
		cp.Parents = append([]string(nil), c.Entity.Parents...)
		f.entities[c.RemoteID] = &cp
	}
	f.history = append(f.history, c)
}

func (f *Fake) allocID() string {
	f.nextID++
	return fmt.Sprintf("fake-%d", f.nextID)
}

func (f *Fake) record(e drive.Entity) {
	cp := e
	cp.Parents = append([]string(nil), e.Parents...)
	f.history = append(f.history, drive.Change{Entity: cp})
}

// ListChanges implements drive.Adapter.
func (f *Fake) ListChanges(_ context.Context, sinceToken string) ([]drive.Change, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("ListChanges"); err != nil {
		return nil, sinceToken, err
	}

	start := 0
	if sinceToken != "" {
		n, err := strconv.Atoi(sinceToken)
		if err != nil || n < 0 || n > len(f.history) {
			return nil, sinceToken, drive.NewError(drive.KindTransport, "ListChanges", fmt.Errorf("bad token %q", sinceToken))
		}
		start = n
	}

	out := append([]drive.Change(nil), f.history[start:]...)
	return out, strconv.Itoa(len(f.history)), nil
}

// GetAll implements drive.Adapter.
func (f *Fake) GetAll(_ context.Context) ([]drive.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("GetAll"); err != nil {
		return nil, err
	}

	out := make([]drive.Entity, 0, len(f.entities))
	for _, e := range f.entities {
		if e.Trashed {
			continue
		}
		cp := *e
		cp.Parents = append([]string(nil), e.Parents...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// Download implements drive.Adapter.
func (f *Fake) Download(_ context.Context, remoteID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Download"); err != nil {
		return nil, err
	}
	if _, ok := f.entities[remoteID]; !ok {
		return nil, drive.NewError(drive.KindNotFound, "Download", nil)
	}
	body := f.bodies[remoteID]
	return append([]byte(nil), body...), nil
}

// Upload implements drive.Adapter.
func (f *Fake) Upload(_ context.Context, parentID, name string, body []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Upload"); err != nil {
		return "", err
	}

	id := f.allocID()
	e := drive.Entity{
		RemoteID: id,
		Name:     name,
		Kind:     kindFromMimeType(mimeType),
		MimeType: mimeType,
		Size:     uint64(len(body)),
		Parents:  []string{parentID},
	}
	f.entities[id] = &e
	f.bodies[id] = append([]byte(nil), body...)
	f.record(e)
	return id, nil
}

// Update implements drive.Adapter.
func (f *Fake) Update(_ context.Context, remoteID string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Update"); err != nil {
		return err
	}
	e, ok := f.entities[remoteID]
	if !ok {
		return drive.NewError(drive.KindNotFound, "Update", nil)
	}
	e.Size = uint64(len(body))
	f.bodies[remoteID] = append([]byte(nil), body...)
	f.record(*e)
	return nil
}

// PatchMetadata implements drive.Adapter.
func (f *Fake) PatchMetadata(_ context.Context, remoteID string, patch drive.MetadataPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("PatchMetadata"); err != nil {
		return err
	}
	e, ok := f.entities[remoteID]
	if !ok {
		return drive.NewError(drive.KindNotFound, "PatchMetadata", nil)
	}

	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.Trashed != nil {
		e.Trashed = *patch.Trashed
	}
	for _, add := range patch.ParentsAdd {
		if !contains(e.Parents, add) {
			e.Parents = append(e.Parents, add)
		}
	}
	if len(patch.ParentsRemove) > 0 {
		kept := e.Parents[:0]
		for _, p := range e.Parents {
			if !contains(patch.ParentsRemove, p) {
				kept = append(kept, p)
			}
		}
		e.Parents = kept
	}
	f.record(*e)
	return nil
}

// Delete implements drive.Adapter.
func (f *Fake) Delete(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Delete"); err != nil {
		return err
	}
	if _, ok := f.entities[remoteID]; !ok {
		return drive.NewError(drive.KindNotFound, "Delete", nil)
	}
	delete(f.entities, remoteID)
	delete(f.bodies, remoteID)
	f.history = append(f.history, drive.Change{Entity: drive.Entity{RemoteID: remoteID}, Removed: true})
	return nil
}

// Statfs implements drive.Adapter.
func (f *Fake) Statfs(_ context.Context) (drive.Quota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Statfs"); err != nil {
		return drive.Quota{}, err
	}
	return f.quota, nil
}

// folderMimeType mirrors package googledrive's constant of the same name;
// duplicated here rather than imported, since the fake has no business
// depending on the real adapter's package.
const folderMimeType = "application/vnd.google-apps.folder"

func kindFromMimeType(mimeType string) drive.Kind {
	if mimeType == folderMimeType {
		return drive.Directory
	}
	return drive.RegularFile
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

var _ drive.Adapter = (*Fake)(nil)
