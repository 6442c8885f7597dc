// Package googledrive implements drive.Adapter against the real Google
// Drive API via google.golang.org/api/drive/v3. The core (package mount)
// never imports this package directly - only cmd/drivefs wires it in,
// preserving the narrow adapter boundary.
package googledrive

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	driveadapter "github.com/relvacode/drivefs/drive"
)

// fileFields lists everything the core's Entity needs, minimizing what
// each request pulls down.
const fileFields = "id, name, mimeType, size, createdTime, modifiedTime, parents, trashed, md5Checksum"

const folderMimeType = "application/vnd.google-apps.folder"

var specialDocumentMimeTypes = map[string]bool{
	"application/vnd.google-apps.document":     true,
	"application/vnd.google-apps.spreadsheet":  true,
	"application/vnd.google-apps.presentation": true,
	"application/vnd.google-apps.drawing":      true,
	"application/vnd.google-apps.site":         true,
}

// exportMimeType picks the binary rendering exported for a special document,
// defaulting to a widely readable format per source type.
var exportMimeType = map[string]string{
	"application/vnd.google-apps.document":     "application/pdf",
	"application/vnd.google-apps.spreadsheet":  "application/pdf",
	"application/vnd.google-apps.presentation": "application/pdf",
	"application/vnd.google-apps.drawing":      "image/png",
	"application/vnd.google-apps.site":         "text/plain",
}

// Adapter implements drive.Adapter against one authenticated Drive service.
type Adapter struct {
	svc *drive.Service
}

// New builds an Adapter from an already-authenticated HTTP client (see
// package session for how one is produced without performing the OAuth
// dance itself, which is a separate concern).
func New(ctx context.Context, httpClient *http.Client) (*Adapter, error) {
	svc, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("googledrive: %w", err)
	}
	return &Adapter{svc: svc}, nil
}

func kindOf(f *drive.File) driveadapter.Kind {
	switch {
	case f.MimeType == folderMimeType:
		return driveadapter.Directory
	case specialDocumentMimeTypes[f.MimeType]:
		return driveadapter.SpecialDocument
	default:
		return driveadapter.RegularFile
	}
}

func entityFromFile(f *drive.File) driveadapter.Entity {
	e := driveadapter.Entity{
		RemoteID: f.Id,
		Name:     f.Name,
		Kind:     kindOf(f),
		MimeType: f.MimeType,
		Size:     uint64(f.Size),
		Parents:  append([]string(nil), f.Parents...),
		Trashed:  f.Trashed,
		Hash:     f.Md5Checksum,
	}
	if t, err := timeFromRFC3339(f.CreatedTime); err == nil {
		e.CrTime = t
	}
	if t, err := timeFromRFC3339(f.ModifiedTime); err == nil {
		e.ModTime = t
	}
	return e
}

// GetAll implements drive.Adapter.
func (a *Adapter) GetAll(ctx context.Context) ([]driveadapter.Entity, error) {
	var out []driveadapter.Entity
	call := a.svc.Files.List().
		Context(ctx).
		Q("trashed = false").
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")"))

	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			out = append(out, entityFromFile(f))
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("GetAll", err)
	}
	return out, nil
}

// ListChanges implements drive.Adapter. An empty sinceToken means "start
// fresh" - the first call fetches a start page token and returns no
// changes.
func (a *Adapter) ListChanges(ctx context.Context, sinceToken string) ([]driveadapter.Change, string, error) {
	if sinceToken == "" {
		tok, err := a.svc.Changes.GetStartPageToken().Context(ctx).Do()
		if err != nil {
			return nil, "", wrapErr("ListChanges", err)
		}
		return nil, tok.StartPageToken, nil
	}

	var out []driveadapter.Change
	pageToken := sinceToken
	nextStart := sinceToken
	for pageToken != "" {
		call := a.svc.Changes.List(pageToken).
			Context(ctx).
			IncludeRemoved(true).
			Fields(googleapi.Field("nextPageToken, newStartPageToken, changes(fileId, removed, file(" + fileFields + "))"))
		resp, err := call.Do()
		if err != nil {
			return nil, sinceToken, wrapErr("ListChanges", err)
		}
		for _, c := range resp.Changes {
			if c.Removed || c.File == nil {
				out = append(out, driveadapter.Change{Entity: driveadapter.Entity{RemoteID: c.FileId}, Removed: true})
				continue
			}
			out = append(out, driveadapter.Change{Entity: entityFromFile(c.File)})
		}
		if resp.NewStartPageToken != "" {
			nextStart = resp.NewStartPageToken
		}
		pageToken = resp.NextPageToken
	}
	return out, nextStart, nil
}

// Download implements drive.Adapter, exporting special documents to a
// readable rendering and fetching the raw body otherwise.
func (a *Adapter) Download(ctx context.Context, remoteID string) ([]byte, error) {
	f, err := a.svc.Files.Get(remoteID).Context(ctx).Fields("mimeType").Do()
	if err != nil {
		return nil, wrapErr("Download", err)
	}

	var resp *http.Response
	if mt, ok := exportMimeType[f.MimeType]; ok {
		resp, err = a.svc.Files.Export(remoteID, mt).Context(ctx).Download()
	} else {
		resp, err = a.svc.Files.Get(remoteID).Context(ctx).Download()
	}
	if err != nil {
		return nil, wrapErr("Download", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Upload implements drive.Adapter. An empty mimeType means "regular file,
// let Drive sniff the content type"; callers that want a directory pass
// folderMimeType explicitly (see mount.node.Mkdir).
func (a *Adapter) Upload(ctx context.Context, parentID, name string, body []byte, mimeType string) (string, error) {
	meta := &drive.File{Name: name, Parents: parentsOf(parentID), MimeType: mimeType}

	call := a.svc.Files.Create(meta).Context(ctx).Fields("id")
	var f *drive.File
	var err error
	if mimeType == folderMimeType {
		f, err = call.Do()
	} else {
		f, err = call.Media(newReader(body)).Do()
	}
	if err != nil {
		return "", wrapErr("Upload", err)
	}
	return f.Id, nil
}

// Update implements drive.Adapter.
func (a *Adapter) Update(ctx context.Context, remoteID string, body []byte) error {
	_, err := a.svc.Files.Update(remoteID, &drive.File{}).Context(ctx).Media(newReader(body)).Do()
	if err != nil {
		return wrapErr("Update", err)
	}
	return nil
}

// PatchMetadata implements drive.Adapter.
func (a *Adapter) PatchMetadata(ctx context.Context, remoteID string, patch driveadapter.MetadataPatch) error {
	update := &drive.File{}
	call := a.svc.Files.Update(remoteID, update).Context(ctx)
	if patch.Name != nil {
		update.Name = *patch.Name
	}
	if patch.Trashed != nil {
		update.Trashed = *patch.Trashed
		update.ForceSendFields = append(update.ForceSendFields, "Trashed")
	}
	if len(patch.ParentsAdd) > 0 {
		call = call.AddParents(joinIDs(patch.ParentsAdd))
	}
	if len(patch.ParentsRemove) > 0 {
		call = call.RemoveParents(joinIDs(patch.ParentsRemove))
	}
	if _, err := call.Do(); err != nil {
		return wrapErr("PatchMetadata", err)
	}
	return nil
}

// Delete implements drive.Adapter.
func (a *Adapter) Delete(ctx context.Context, remoteID string) error {
	if err := a.svc.Files.Delete(remoteID).Context(ctx).Do(); err != nil {
		return wrapErr("Delete", err)
	}
	return nil
}

// Statfs implements drive.Adapter.
func (a *Adapter) Statfs(ctx context.Context) (driveadapter.Quota, error) {
	about, err := a.svc.About.Get().Context(ctx).Fields("storageQuota").Do()
	if err != nil {
		return driveadapter.Quota{}, wrapErr("Statfs", err)
	}
	if about.StorageQuota == nil {
		return driveadapter.Quota{}, nil
	}
	return driveadapter.Quota{
		Total: uint64(about.StorageQuota.Limit),
		Used:  uint64(about.StorageQuota.Usage),
	}, nil
}

var _ driveadapter.Adapter = (*Adapter)(nil)
