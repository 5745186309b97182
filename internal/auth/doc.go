// Package auth owns the OAuth credential of the signed-in user.
//
// Manager drives the authorization flow through the local callback listener,
// hands out valid access tokens and refreshes them shortly before they
// expire. At most one refresh is in flight at a time; concurrent callers
// share its result. The credential itself never leaves the manager, callers
// only ever see a domain.Token.
package auth
