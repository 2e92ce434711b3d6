package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Identity is who a verified token speaks for.
type Identity struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	Email  string
}

// Claims is the access token body. The user id travels in "sub".
type Claims struct {
	Role  enums.ActorRole `json:"role"`
	Email string          `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() (Identity, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return Identity{}, ErrMissingIdentity
	}
	if !c.Role.IsValid() {
		return Identity{}, ErrMissingIdentity
	}
	return Identity{UserID: userID, Role: c.Role, Email: c.Email}, nil
}
