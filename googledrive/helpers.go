package googledrive

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	driveadapter "github.com/relvacode/drivefs/drive"
)

func newReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}

func parentsOf(parentID string) []string {
	if parentID == "" {
		return nil
	}
	return []string{parentID}
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func timeFromRFC3339(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// wrapErr classifies a raw googleapi error into the drive package's error
// taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case http.StatusNotFound:
			return driveadapter.NewError(driveadapter.KindNotFound, op, err)
		case http.StatusForbidden:
			return driveadapter.NewError(driveadapter.KindPermissionDenied, op, err)
		case http.StatusUnauthorized:
			return driveadapter.NewError(driveadapter.KindAuth, op, err)
		case http.StatusInsufficientStorage:
			return driveadapter.NewError(driveadapter.KindQuotaExceeded, op, err)
		}
	}
	return driveadapter.NewError(driveadapter.KindTransport, op, err)
}
