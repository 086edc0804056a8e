package notifier

import (
	"context"
	"sort"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Recipients are the resolved addresses for one dispatch.
type Recipients struct {
	Emails []string
	Phones []string
}

// RecipientResolver maps roles to contact addresses.
type RecipientResolver interface {
	Resolve(ctx context.Context, roles []string) (Recipients, error)
}

var severityRoles = map[types.Severity][]string{
	types.SeverityCritical: {RoleAdmin, RoleOperator},
	types.SeverityHigh:     {RoleOperator, RoleAdmin},
	types.SeverityMedium:   {RoleOperator},
	types.SeverityLow:      {RoleOperator},
}

// RolesFor returns the roles notified for severity. Escalated alerts always include admin.
func RolesFor(severity types.Severity, escalated bool) []string {
	roles := append([]string(nil), severityRoles[severity]...)
	if len(roles) == 0 {
		roles = []string{RoleOperator}
	}
	if escalated {
		for _, r := range roles {
			if r == RoleAdmin {
				return roles
			}
		}
		roles = append(roles, RoleAdmin)
	}
	return roles
}

// Contact is a person who can receive notifications.
type Contact struct {
	Name   string   `yaml:"name"`
	Email  string   `yaml:"email,omitempty"`
	Phone  string   `yaml:"phone,omitempty"`
	Roles  []string `yaml:"roles"`
	Active bool     `yaml:"active"`
}

// ContactBook is a RecipientResolver over a fixed contact list.
type ContactBook struct {
	contacts []Contact
}

func NewContactBook(contacts []Contact) *ContactBook {
	return &ContactBook{contacts: append([]Contact(nil), contacts...)}
}

// Resolve returns the deduplicated, sorted addresses of active contacts holding any of roles.
func (b *ContactBook) Resolve(_ context.Context, roles []string) (Recipients, error) {
	want := make(map[string]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}

	emails := map[string]bool{}
	phones := map[string]bool{}
	for _, c := range b.contacts {
		if !c.Active {
			continue
		}
		for _, r := range c.Roles {
			if !want[r] {
				continue
			}
			if c.Email != "" {
				emails[c.Email] = true
			}
			if c.Phone != "" {
				phones[c.Phone] = true
			}
			break
		}
	}

	return Recipients{Emails: sortedKeys(emails), Phones: sortedKeys(phones)}, nil
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
