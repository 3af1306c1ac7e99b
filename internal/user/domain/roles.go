package domain

// Role is a user's role. Provider roles belong to the MSP's own organization;
// customer roles to client organizations.
type Role string

const (
	RoleProviderAdmin    Role = "provider_admin"
	RoleSeniorTechnician Role = "senior_technician"
	RoleTechnician       Role = "technician"
	RoleAnalyst          Role = "analyst"

	RoleCustomerAdmin  Role = "customer_admin"
	RoleCustomerUser   Role = "customer_user"
	RoleCustomerViewer Role = "customer_viewer"
)

// RoleInfo describes a role for the roles listing.
type RoleInfo struct {
	Role        Role     `json:"role"`
	Scope       string   `json:"scope"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// Permissions checked by route guards.
const (
	PermManageAccess   = "access:manage"
	PermViewAccess     = "access:view"
	PermReadAudit      = "audit:read"
	PermComplianceRept = "audit:compliance"
	PermCustomerData   = "customer:data"
)

var roles = []RoleInfo{
	{RoleProviderAdmin, "provider", "Full administration of the provider and all customers",
		[]string{PermManageAccess, PermViewAccess, PermReadAudit, PermComplianceRept, PermCustomerData}},
	{RoleSeniorTechnician, "provider", "Manages technician access and works on customer systems",
		[]string{PermManageAccess, PermViewAccess, PermReadAudit, PermCustomerData}},
	{RoleTechnician, "provider", "Works on customer systems under explicit grants",
		[]string{PermViewAccess, PermCustomerData}},
	{RoleAnalyst, "provider", "Read-only reporting across the provider",
		[]string{PermViewAccess, PermReadAudit}},
	{RoleCustomerAdmin, "customer", "Administers a customer organization", []string{PermReadAudit}},
	{RoleCustomerUser, "customer", "Regular customer user", nil},
	{RoleCustomerViewer, "customer", "Read-only customer user", nil},
}

// Roles returns every defined role.
func Roles() []RoleInfo {
	out := make([]RoleInfo, len(roles))
	copy(out, roles)
	return out
}

func lookup(r Role) (RoleInfo, bool) {
	for _, info := range roles {
		if info.Role == r {
			return info, true
		}
	}
	return RoleInfo{}, false
}

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	_, ok := lookup(r)
	return ok
}

// IsProvider reports whether r belongs to the provider organization.
func (r Role) IsProvider() bool {
	info, ok := lookup(r)
	return ok && info.Scope == "provider"
}

// IsCustomer reports whether r belongs to a customer organization.
func (r Role) IsCustomer() bool {
	info, ok := lookup(r)
	return ok && info.Scope == "customer"
}

// CanHoldCustomerAccess reports whether a user with r may receive a technician grant.
func (r Role) CanHoldCustomerAccess() bool {
	switch r {
	case RoleProviderAdmin, RoleSeniorTechnician, RoleTechnician:
		return true
	}
	return false
}

// Has reports whether r carries perm.
func (r Role) Has(perm string) bool {
	info, ok := lookup(r)
	if !ok {
		return false
	}
	for _, p := range info.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// TechnicianRoles lists roles eligible for technician grants.
func TechnicianRoles() []Role {
	return []Role{RoleProviderAdmin, RoleSeniorTechnician, RoleTechnician}
}

// ListValidRoles returns the roles a user of an organization of orgKind ("provider" or
// "customer") may hold. An unknown kind yields nil.
func ListValidRoles(orgKind string) []RoleInfo {
	var out []RoleInfo
	for _, info := range roles {
		if info.Scope == orgKind {
			out = append(out, info)
		}
	}
	return out
}

// ValidateRole reports whether role may be held in an organization of orgKind.
func ValidateRole(role Role, orgKind string) bool {
	info, ok := lookup(role)
	return ok && info.Scope == orgKind
}
