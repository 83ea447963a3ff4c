package address

import (
	"errors"
)

// ErrContextRequired indicates a domain address was requested without a context.
var ErrContextRequired = errors.New("domain context is required")

// DomainAddress is an address that is known to be scoped to a bounded
// context. Generic addresses cannot be passed where a DomainAddress is
// expected.
type DomainAddress struct {
	Address
}

// InDomain scopes a to context.
func (a Address) InDomain(context string) (DomainAddress, error) {
	if context == "" {
		return DomainAddress{}, ErrContextRequired
	}
	return DomainAddress{Address: a.WithContext(context)}, nil
}

// Generic drops the domain scope.
func (d DomainAddress) Generic() Address {
	return d.Address.WithContext("")
}
