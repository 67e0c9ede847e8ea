package service

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims is the payload of an optional identity token presented by
// SDK callers on the evaluate endpoint. A verified token pre-fills the
// evaluation request with the caller's user id and group memberships.
type IdentityClaims struct {
	UserID string   `json:"uid"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}
