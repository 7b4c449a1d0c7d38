// Package version reports the build version and checks GitHub for newer releases.
package version

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/nulzo/onellm-router/internal/httpclient"
)

// Version is overridden at build time with -ldflags "-X ...version.Version=v1.2.3".
var Version = "v0.0.0"

const releasesURL = "https://api.github.com/repos/nulzo/onellm-router/releases/latest"

type release struct {
	TagName string `json:"tag_name"`
}

// Sender is the subset of httpclient.Client used for the release lookup.
type Sender interface {
	Send(ctx context.Context, req *httpclient.Request) ([]byte, error)
}

// Newer reports whether latest is a strictly greater semantic version than
// current. Unparseable versions never count as newer.
func Newer(current, latest string) bool {
	c, err := goversion.NewVersion(current)
	if err != nil {
		return false
	}
	l, err := goversion.NewVersion(latest)
	if err != nil {
		return false
	}
	return c.LessThan(l)
}

// CheckForUpdates returns the latest release tag when it is newer than
// Version. Any lookup failure yields "" and is not an error worth reporting.
func CheckForUpdates(ctx context.Context, client Sender) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	body, err := client.Send(ctx, &httpclient.Request{
		Method: http.MethodGet,
		URL:    releasesURL,
		Header: map[string]string{"Accept": "application/vnd.github+json"},
	})
	if err != nil {
		return ""
	}

	var r release
	if err := json.Unmarshal(body, &r); err != nil {
		return ""
	}

	if Newer(Version, r.TagName) {
		return r.TagName
	}
	return ""
}
