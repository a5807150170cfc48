// Package google wraps the Google OAuth2 flow mailminder signs users in with:
// the consent URL, the code exchange, the userinfo lookup and the
// refresh-token grant used when a stored access token has expired.
package google
