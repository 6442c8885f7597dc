// Package drive defines the narrow interface the core filesystem uses to
// talk to a remote object store, along with the wire-shaped types that cross
// that boundary. It intentionally says nothing about HTTP, OAuth, or any
// particular vendor - those live in collaborator packages (googledrive,
// session) that the core never imports.
package drive

import "time"

// Kind identifies what sort of thing an Entity represents.
type Kind int

const (
	// Directory is a folder.
	Directory Kind = iota
	// RegularFile has a binary body that can be uploaded/downloaded as-is.
	RegularFile
	// SpecialDocument is a server-native format (docs/sheets/slides/
	// drawings/sites) with no direct binary body; it is read as an
	// exported rendering.
	SpecialDocument
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case SpecialDocument:
		return "special_document"
	default:
		return "regular_file"
	}
}

// Entity is the remote-side shape of a node: everything the adapter knows
// about an object, keyed by its RemoteID.
type Entity struct {
	RemoteID string
	Name     string
	Kind     Kind

	// MimeType is only meaningful for SpecialDocument entities - it picks
	// the export format (and, if configured, the display extension).
	MimeType string

	Size uint64

	ModTime time.Time
	CrTime  time.Time

	// Parents holds every parent RemoteID for this entity. Drive allows
	// more than one.
	Parents []string

	Trashed bool

	// Hash is an opaque content fingerprint (Drive's md5Checksum, for
	// example) used only to detect identical content across a
	// create/modify delta; never interpreted by the core.
	Hash string
}

// IsDir reports whether the entity is a directory.
func (e *Entity) IsDir() bool {
	return e.Kind == Directory
}

// Change is one entry from the remote change log returned by list_changes.
type Change struct {
	Entity
	// Removed is true when this change represents a deletion. When true,
	// only RemoteID is guaranteed to be populated.
	Removed bool
}

// MetadataPatch describes a partial update to an entity's metadata - the
// payload behind rename/move/trash. A nil
// pointer/slice field means "leave unchanged."
type MetadataPatch struct {
	Name          *string
	ParentsAdd    []string
	ParentsRemove []string
	Trashed       *bool
}
