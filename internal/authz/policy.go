package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Resource names.
const (
	ResourceClient = "client"
	ResourceNote   = "note"
	ResourceUser   = "user"
)

// Field names with dedicated rules.
const (
	FieldOwner     = "user_id"
	FieldDeletedAt = "deleted_at"
	FieldRole      = "role"
)

// FieldRule gives the least privileged role allowed to change a field.
type FieldRule struct {
	// Floor applies when the actor owns the record.
	Floor Role
	// OthersFloor applies when the actor does not own it. Empty means Floor.
	OthersFloor Role
}

// Policy is the rule table for one resource type.
type Policy struct {
	Resource string
	Fields   map[string]FieldRule

	// OwnerField, when set, is granted through the assign rule using the proposed value.
	OwnerField string
	// DeletedField is granted only to actors allowed to delete the record.
	DeletedField string

	CreateFloor Role
	// AssignFloor may assign records to themselves or leave them unassigned.
	AssignFloor Role
	// AssignAnyFloor may assign records to anyone.
	AssignAnyFloor   Role
	DeleteFloor      Role
	ReadFloor        Role
	ReadDeletedFloor Role
}

func personalFields(rule FieldRule, names ...string) map[string]FieldRule {
	m := make(map[string]FieldRule, len(names))
	for _, n := range names {
		m[n] = rule
	}
	return m
}

// ClientPolicy is the rule table for client records.
func ClientPolicy() Policy {
	fields := personalFields(FieldRule{Floor: RoleAdvisor},
		"first_name", "last_name", "birthdate", "location", "phone", "email", "sex", "vigilance_level")
	fields["client_status_id"] = FieldRule{Floor: RoleAdvisor, OthersFloor: RoleManagingAdvisor}
	return Policy{
		Resource:         ResourceClient,
		Fields:           fields,
		OwnerField:       FieldOwner,
		DeletedField:     FieldDeletedAt,
		CreateFloor:      RoleAdvisor,
		AssignFloor:      RoleAdvisor,
		AssignAnyFloor:   RoleManagingAdvisor,
		DeleteFloor:      RoleManagingAdvisor,
		ReadFloor:        RoleNewcomer,
		ReadDeletedFloor: RoleManagingAdvisor,
	}
}

// NotePolicy is the rule table for notes. The owner of a note is its author.
func NotePolicy() Policy {
	return Policy{
		Resource: ResourceNote,
		Fields: personalFields(FieldRule{Floor: RoleAdvisor, OthersFloor: RoleManagingAdvisor},
			"message", "hidden"),
		DeletedField:     FieldDeletedAt,
		CreateFloor:      RoleAdvisor,
		AssignFloor:      RoleAdvisor,
		AssignAnyFloor:   RoleManagingAdvisor,
		DeleteFloor:      RoleManagingAdvisor,
		ReadFloor:        RoleNewcomer,
		ReadDeletedFloor: RoleManagingAdvisor,
	}
}

// UserPolicy is the rule table for user accounts. The owner of an account is the user itself.
// Role changes are decided by UserVerifier.
func UserPolicy() Policy {
	fields := personalFields(FieldRule{Floor: RoleNewcomer, OthersFloor: RoleManagingAdvisor},
		"first_name", "surname", "email", "theme", "language_id")
	fields["status"] = FieldRule{Floor: RoleManagingAdvisor}
	return Policy{
		Resource:         ResourceUser,
		Fields:           fields,
		DeletedField:     FieldDeletedAt,
		CreateFloor:      RoleManagingAdvisor,
		AssignFloor:      RoleManagingAdvisor,
		AssignAnyFloor:   RoleManagingAdvisor,
		DeleteFloor:      RoleManagingAdvisor,
		ReadFloor:        RoleNewcomer,
		ReadDeletedFloor: RoleManagingAdvisor,
	}
}

// FieldNames returns every field the policy can grant, sorted.
func (p Policy) FieldNames() []string {
	names := make([]string, 0, len(p.Fields)+2)
	for name := range p.Fields {
		names = append(names, name)
	}
	if p.OwnerField != "" {
		names = append(names, p.OwnerField)
	}
	if p.DeletedField != "" {
		names = append(names, p.DeletedField)
	}
	sort.Strings(names)
	return names
}

// Validate reports a misconfigured rule table.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Resource) == "" {
		return fmt.Errorf("%w: resource name is required", ErrInvalidPolicy)
	}
	floors := map[string]Role{
		"create":       p.CreateFloor,
		"assign":       p.AssignFloor,
		"assign_any":   p.AssignAnyFloor,
		"delete":       p.DeleteFloor,
		"read":         p.ReadFloor,
		"read_deleted": p.ReadDeletedFloor,
	}
	for name, floor := range floors {
		if _, err := ParseRole(string(floor)); err != nil {
			return fmt.Errorf("%w: %s %s floor: %v", ErrInvalidPolicy, p.Resource, name, err)
		}
	}
	for field, rule := range p.Fields {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("%w: %s has an empty field name", ErrInvalidPolicy, p.Resource)
		}
		if field == p.OwnerField || field == p.DeletedField {
			return fmt.Errorf("%w: %s field %s has a dedicated rule", ErrInvalidPolicy, p.Resource, field)
		}
		if _, err := ParseRole(string(rule.Floor)); err != nil {
			return fmt.Errorf("%w: %s field %s: %v", ErrInvalidPolicy, p.Resource, field, err)
		}
		if rule.OthersFloor != "" {
			if _, err := ParseRole(string(rule.OthersFloor)); err != nil {
				return fmt.Errorf("%w: %s field %s: %v", ErrInvalidPolicy, p.Resource, field, err)
			}
		}
	}
	return nil
}
