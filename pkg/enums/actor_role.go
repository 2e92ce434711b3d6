package enums

// ActorRole scopes what an authenticated caller may do. System is reserved
// for background jobs and is refused at the HTTP edge.
type ActorRole string

const (
	ActorRoleCustomer   ActorRole = "customer"
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleSuperadmin ActorRole = "superadmin"
	ActorRoleSystem     ActorRole = "system"
)

func (r ActorRole) String() string { return string(r) }

func (r ActorRole) IsValid() bool {
	return r == ActorRoleCustomer || r.IsPrivileged()
}

// IsPrivileged reports whether the role may act on orders it does not own.
func (r ActorRole) IsPrivileged() bool {
	switch r {
	case ActorRoleAdmin, ActorRoleSuperadmin, ActorRoleSystem:
		return true
	}
	return false
}
