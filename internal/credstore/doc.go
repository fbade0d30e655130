// Package credstore persists account credentials across process restarts:
// the tokens obtained by a login flow and the dynamic client registration
// data the server issued for this installation.
//
// Records are keyed by normalized server URL and written as JSON files with
// 0600 permissions inside a 0700 directory (default
// ~/.config/cloudauth/accounts). Token values are never logged; audit log
// lines carry server URLs and booleans only.
package credstore
