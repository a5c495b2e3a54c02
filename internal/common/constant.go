// Package common contains shared constants and sentinel errors used across
// the deskclient stores.
package common

// TokenStorageKey is the durable storage key holding the serialized
// access/refresh/fork token pair. Absence of the key means anonymous.
const TokenStorageKey = "at"

// AuthorizationHeaderName is the HTTP header carrying the bearer access token.
const AuthorizationHeaderName = "Authorization"

// PlaceholderIDPrefix marks project ids generated locally before the server
// assigned a real one.
const PlaceholderIDPrefix = "tmp-"
