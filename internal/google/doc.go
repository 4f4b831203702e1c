// Package google connects users' Google accounts and keeps their OAuth
// credentials valid.
//
// The OAuth flow (AuthURL, Exchange) requests offline access with a forced
// consent prompt so that Google always issues a refresh token. TokenManager
// hands out credentials for a user, refreshing and persisting them when the
// stored access token has expired. Concurrent requests for the same user
// share a single refresh.
package google
