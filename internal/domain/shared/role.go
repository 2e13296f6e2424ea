package shared

// AppRole identifies which storefront application a process plays
type AppRole string

const (
	RoleHost     AppRole = "host"
	RoleProducts AppRole = "products"
	RoleBasket   AppRole = "basket"
)

// Roles lists every application role
var Roles = []AppRole{RoleHost, RoleProducts, RoleBasket}

// Valid reports whether r is a known role
func (r AppRole) Valid() bool {
	switch r {
	case RoleHost, RoleProducts, RoleBasket:
		return true
	}
	return false
}

// Counterparts returns the roles r exchanges basket messages with. The host
// embeds both remotes; each remote only talks to the host.
func (r AppRole) Counterparts() []AppRole {
	switch r {
	case RoleHost:
		return []AppRole{RoleProducts, RoleBasket}
	case RoleProducts, RoleBasket:
		return []AppRole{RoleHost}
	}
	return nil
}

// StorageKey is the per-application key the basket is persisted under
func (r AppRole) StorageKey() string {
	switch r {
	case RoleHost:
		return "host-app-basket"
	case RoleProducts:
		return "products-remote-basket"
	case RoleBasket:
		return "basket-remote-data"
	}
	return string(r) + "-basket"
}
