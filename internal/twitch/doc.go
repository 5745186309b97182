// Package twitch integrates with the Twitch identity and Helix APIs.
//
// OAuthClient builds consent URLs and talks to the token and validate endpoints
// (golang.org/x/oauth2). HelixClient fetches followed channels and live streams
// (nicklaw5/helix) behind a request rate limit and a circuit breaker.
package twitch
