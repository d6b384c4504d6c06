package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried by access tokens. Authentication itself happens outside this
// service; the coordinator only consumes the already-verified identity.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// JWTClaims is the access token payload.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
