package registry

import (
	"fmt"
	"strings"
	"time"
)

// Permission keys every definition must carry.
const (
	PermissionFileSystem = "file_system_access"
	PermissionTerminal   = "terminal_access"
	PermissionNetwork    = "network_access"
)

var requiredPermissions = []string{
	PermissionFileSystem,
	PermissionTerminal,
	PermissionNetwork,
}

// Definition describes a named agent: what it can do, which tools it owns
// and what it is allowed to touch. Definitions are immutable once
// registered; re-registering a name replaces the whole record.
type Definition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Role         string          `json:"role"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Tools        []string        `json:"tools,omitempty"`
	Permissions  map[string]bool `json:"permissions"`
	CanCall      []string        `json:"can_call,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Validate checks the required fields and the permission key set.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent definition: name is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("agent definition %q: description is required", d.Name)
	}
	if strings.TrimSpace(d.Role) == "" {
		return fmt.Errorf("agent definition %q: role is required", d.Name)
	}
	for _, key := range requiredPermissions {
		if _, ok := d.Permissions[key]; !ok {
			return fmt.Errorf("agent definition %q: permission key %q is required", d.Name, key)
		}
	}
	for key := range d.Permissions {
		switch key {
		case PermissionFileSystem, PermissionTerminal, PermissionNetwork:
		default:
			return fmt.Errorf("agent definition %q: unknown permission key %q", d.Name, key)
		}
	}
	return nil
}

// HasCapability reports whether the definition carries a capability tag,
// case-insensitively.
func (d *Definition) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}

// SharesCapability reports whether two definitions have at least one
// capability tag in common.
func (d *Definition) SharesCapability(other *Definition) bool {
	for _, c := range d.Capabilities {
		if other.HasCapability(c) {
			return true
		}
	}
	return false
}

func (d *Definition) hasTool(name string) bool {
	for _, t := range d.Tools {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}
