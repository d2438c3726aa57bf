// Package auth resolves who is calling. Login and token issuance happen
// upstream; this service only reads the identity the proxy vouches for.
package auth

import (
	"net/http"
	"strings"

	"skytalk/internal/models"
)

const (
	HeaderUserID     = "X-User-Id"
	HeaderUserName   = "X-User-Name"
	HeaderUserAvatar = "X-User-Avatar"
)

// Provider returns the identity of the current request, if any.
type Provider interface {
	CurrentUser(r *http.Request) (models.Identity, bool)
}

// HeaderProvider trusts identity headers set by an authenticating reverse proxy.
// Any client that reaches the API directly can claim any identity, so the API
// must only be exposed through that proxy (see API_ADDR).
type HeaderProvider struct{}

func (HeaderProvider) CurrentUser(r *http.Request) (models.Identity, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return models.Identity{}, false
	}

	name := strings.TrimSpace(r.Header.Get(HeaderUserName))
	if name == "" {
		name = id
	}

	return models.Identity{
		ID:          id,
		DisplayName: name,
		AvatarURL:   strings.TrimSpace(r.Header.Get(HeaderUserAvatar)),
	}, true
}
