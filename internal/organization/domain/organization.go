package domain

import (
	"errors"
	"time"
)

// Org is a tenant: the single provider organization or one of its customers.
type Org struct {
	ID   string
	Name string
	Kind OrgKind
	// SSOEnabled marks orgs federated elsewhere; local login still applies here.
	SSOEnabled bool
	Status     OrgStatus
	Settings   Settings
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type OrgKind string

const (
	OrgKindProvider OrgKind = "provider"
	OrgKindCustomer OrgKind = "customer"
)

type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusDeleted   OrgStatus = "deleted"
)

// IsActive reports whether users of the org may authenticate.
func (o *Org) IsActive() bool {
	return o != nil && o.Status == OrgStatusActive
}

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Org) Validate() error {
	if o.Name == "" {
		return errors.New("name is required")
	}
	if o.Kind != OrgKindProvider && o.Kind != OrgKindCustomer {
		return errors.New("kind must be provider or customer")
	}
	if o.Status == "" {
		o.Status = OrgStatusActive
	}
	return o.Settings.Validate()
}
