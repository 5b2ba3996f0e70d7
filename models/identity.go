package models

type UserRole string

const (
	RolePlayer UserRole = "player"
	RoleAdmin  UserRole = "admin"
	RoleSystem UserRole = "system"
)

func (r UserRole) Valid() bool {
	switch r {
	case RolePlayer, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Identity - аутентифицированный субъект, от имени которого выполняется операция.
type Identity struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
}

// SystemIdentity используется воркерами (таймеры, расчёты, сетка).
var SystemIdentity = Identity{UserID: "system", Role: RoleSystem}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IsPrivileged - админ или внутренний процесс.
func (i Identity) IsPrivileged() bool {
	return i.Role == RoleAdmin || i.Role == RoleSystem
}
