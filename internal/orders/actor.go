package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	Email  string
}

// SystemActor is used by background jobs and webhook reconcilers.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

// IsPrivileged reports whether the actor may act on orders it does not own.
func (a Actor) IsPrivileged() bool {
	return a.Role.IsPrivileged()
}

// CanAccess reports whether the actor owns the order or is privileged.
func (a Actor) CanAccess(order *models.Order) bool {
	if a.IsPrivileged() {
		return true
	}
	return a.UserID != uuid.Nil && order.IsOwnedBy(a.UserID)
}

func (a Actor) outboxRef() *outbox.ActorRef {
	ref := &outbox.ActorRef{Role: a.Role}
	if a.UserID != uuid.Nil {
		id := a.UserID
		ref.UserID = &id
	}
	return ref
}
