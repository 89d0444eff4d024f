// README: Actor identity supplied by the upstream auth layer.
package types

type Role string

const (
	RoleCustomer Role = "customer"
	RoleWorker   Role = "worker"
	RoleThekedar Role = "thekedar"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleWorker, RoleThekedar:
		return true
	}
	return false
}

type Actor struct {
	ID   ID
	Role Role
}

// SystemActor attributes transitions made by background jobs or selectors.
var SystemActor = Actor{Role: RoleSystem}

// IDPtr returns nil for an anonymous actor.
func (a Actor) IDPtr() *ID {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}
