package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/marcom/internal/apperr"
)

const driveDownloadURL = "https://drive.google.com/uc?export=download&id="

// ResolveDriveLink rewrites a Google Drive share link into its direct
// download URL. Links to other hosts are returned unchanged. A Drive link
// that carries no file id is an error.
func ResolveDriveLink(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL: %v", apperr.ErrFetch, err)
	}
	if !strings.EqualFold(u.Hostname(), "drive.google.com") {
		return raw, nil
	}
	if id := u.Query().Get("id"); id != "" {
		return driveDownloadURL + url.QueryEscape(id), nil
	}
	// https://drive.google.com/file/d/<id>/view
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "d" && parts[i+1] != "" {
			return driveDownloadURL + url.QueryEscape(parts[i+1]), nil
		}
	}
	return "", fmt.Errorf("%w: drive link has no file id: %s", apperr.ErrFetch, raw)
}
