// Package loginflow drives browser-mediated OAuth2 logins against
// self-hosted cloud servers.
//
// A Flow sequences one authentication attempt:
//
//	--> Start()
//	    |
//	    +----> strategy.Prepare()   capability probe (account-bound variant)
//	    |
//	    +----> Discover()           ".well-known/openid-configuration", falling
//	    |                           back to the conventional apps/oauth2 endpoints
//	    |
//	    +----> CallbackServer       binds 127.0.0.1:<port> before the
//	    |                           authorization URL is published
//	    |
//	    +----> (RegisterClient)     dynamic registration when the server offers it
//	    |
//	    the caller opens the browser at the returned URL; the browser
//	    redirects to http://localhost:<port>/ with a code
//	    |
//	    +----> ExchangeCode()       then FetchUserID() if the token response
//	    |                           omitted the account identifier
//	    v
//	 exactly one Outcome on Outcome(): LoggedIn, NotSupported, or Error
//
// PKCE verifier and anti-CSRF state token are generated fresh per attempt. A
// state mismatch on the redirect aborts the attempt before any token request.
// Closing a flow releases the port and guarantees no outcome or pending
// authorization-URL callback fires afterward.
//
// Refresh is independent of the primary attempt: it reports its result to
// its caller only and can run many times over a session's lifetime.
package loginflow
