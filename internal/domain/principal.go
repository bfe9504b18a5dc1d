package domain

// StaffRole enumerates roles carried in staff bearer tokens.
type StaffRole string

const (
	StaffRoleStaff StaffRole = "STAFF"
	StaffRoleAdmin StaffRole = "ADMIN"
)

// Valid reports whether r is a known role.
func (r StaffRole) Valid() bool {
	return r == StaffRoleStaff || r == StaffRoleAdmin
}
