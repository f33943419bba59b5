// Package auth implements the authentication layer of the mailwise backend:
// the Google OAuth login flow, application session tokens, upstream token
// refresh and the bearer-token request guard.
//
// The flow is: the browser asks for an authorization URL, the user consents
// at Google, the callback exchanges the authorization code for upstream
// tokens and upserts the user record, and a signed session token is handed
// back to the browser. Every protected request carries that session token;
// the guard validates it and resolves the stored user. Handlers that call
// Gmail refresh the upstream access token on demand through the Refresher.
//
// All authentication failures are terminal for the current request and
// surface as 401; the error kind is logged so causes stay distinguishable.
package auth
