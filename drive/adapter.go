package drive

import "context"

// Quota is the result of a Statfs call.
type Quota struct {
	Total uint64
	Used  uint64
}

// Adapter is the narrow interface the core depends on. Every
// method may block and every method may fail with an *Error. Retries for
// transient failures are the adapter's own concern; by the time an *Error
// reaches the core, it is final.
//
// A real implementation lives in package googledrive, outside the core. An
// in-memory fake sufficient to exercise the whole core lives in
// drive/drivetest.
type Adapter interface {
	// ListChanges returns every change since sinceToken, in server order,
	// plus the token to resume from on the next call. An empty
	// sinceToken requests a full token reset (the adapter is free to
	// return an error if it cannot honor that and a fresh GetAll is
	// required instead).
	ListChanges(ctx context.Context, sinceToken string) (changes []Change, newToken string, err error)

	// GetAll returns every non-trashed entity, for initial population.
	GetAll(ctx context.Context) ([]Entity, error)

	Download(ctx context.Context, remoteID string) ([]byte, error)

	// Upload creates a new entity under parentID with the given name and
	// body, returning its RemoteID.
	Upload(ctx context.Context, parentID, name string, body []byte, mimeType string) (remoteID string, err error)

	// Update replaces the body of an existing entity.
	Update(ctx context.Context, remoteID string, body []byte) error

	PatchMetadata(ctx context.Context, remoteID string, patch MetadataPatch) error

	// Delete permanently destroys an entity (bypasses any remote trash).
	Delete(ctx context.Context, remoteID string) error

	Statfs(ctx context.Context) (Quota, error)
}
