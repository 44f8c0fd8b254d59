// Package jwt issues and verifies the access and refresh tokens of an authentication session.
//
// Both token types share one claim set and are told apart by the "typ" claim, so an access
// token can never be replayed as a refresh token. Parse classifies every failure into one of
// ErrMalformed, ErrExpired, ErrSignatureInvalid or ErrWrongType.
//
// The codec is pure: it never consults revocation state. Callers combine Parse with the
// blacklist to decide whether a token is currently valid.
package jwt
