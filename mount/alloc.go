package mount

// Handle is a locally-unique 64-bit identifier for an entity, stable for
// the life of the mount. It is distinct from, and never
// equal to, a remote ID.
type Handle uint64

const (
	// RootHandle is reserved for the filesystem root.
	RootHandle Handle = 1
	// TrashHandle is reserved for the synthetic trash container.
	TrashHandle Handle = 2
	// SharedWithMeHandle is reserved for the synthetic "Shared with me"
	// virtual folder.
	SharedWithMeHandle Handle = 3

	// firstDynamicHandle is the first handle the allocator hands out;
	// everything below it is reserved for synthetic containers, with
	// room to grow without colliding with real entities.
	firstDynamicHandle Handle = 16
)

// allocator issues Handles and maintains the bidirectional mapping between
// Handles and remote IDs. It is not safe for concurrent use;
// callers serialize access through the tree's lock.
type allocator struct {
	next Handle

	byRemote map[string]Handle
	byHandle map[Handle]string // inverse of byRemote; "" for synthetic/local-only entities

	retired map[Handle]bool
}

func newAllocator() *allocator {
	return &allocator{
		next:     firstDynamicHandle,
		byRemote: make(map[string]Handle),
		byHandle: make(map[Handle]string),
		retired:  make(map[Handle]bool),
	}
}

// Alloc returns a fresh handle. If remoteID is non-empty, the handle is
// bound to it - a bound handle is never rebound to a different remote ID.
func (a *allocator) Alloc(remoteID string) Handle {
	h := a.next
	a.next++
	a.bind(h, remoteID)
	return h
}

// AllocReserved registers one of the fixed low handles (root, trash,
// shared-with-me) against its (possibly empty) remote ID. Reserved handles
// are never produced by Alloc.
func (a *allocator) AllocReserved(h Handle, remoteID string) {
	a.bind(h, remoteID)
}

func (a *allocator) bind(h Handle, remoteID string) {
	a.byHandle[h] = remoteID
	if remoteID != "" {
		a.byRemote[remoteID] = h
	}
}

// Lookup returns the handle bound to remoteID, if any.
func (a *allocator) Lookup(remoteID string) (Handle, bool) {
	h, ok := a.byRemote[remoteID]
	return h, ok
}

// RemoteID returns the remote ID bound to h, which may be empty for a
// synthetic or not-yet-uploaded entity.
func (a *allocator) RemoteID(h Handle) string {
	return a.byHandle[h]
}

// Retire marks h as permanently gone; it is removed from both maps and will
// never be reissued.
func (a *allocator) Retire(h Handle) {
	if remoteID, ok := a.byHandle[h]; ok && remoteID != "" {
		delete(a.byRemote, remoteID)
	}
	delete(a.byHandle, h)
	a.retired[h] = true
}

// IsRetired reports whether h was ever retired.
func (a *allocator) IsRetired(h Handle) bool {
	return a.retired[h]
}
