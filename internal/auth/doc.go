// Package auth issues and validates HS256 bearer tokens for the inspection
// API. Tokens carry only a subject; there are no user accounts.
package auth
