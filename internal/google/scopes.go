package google

import (
	gmail "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
)

// DefaultOAuthScopes are requested at sign-in.
//
// The scopes provide access to:
//   - OpenID Connect identity (subject, email, name)
//   - Gmail: read-only
var DefaultOAuthScopes = []string{
	"openid",
	oauth2api.UserinfoEmailScope,
	oauth2api.UserinfoProfileScope,
	gmail.GmailReadonlyScope,
}
