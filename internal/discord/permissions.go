package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a message author has the admin role
// before executing privileged commands.
type PermissionChecker struct {
	adminRoleID string
}

// NewPermissionChecker creates a PermissionChecker with the given role ID.
func NewPermissionChecker(adminRoleID string) *PermissionChecker {
	return &PermissionChecker{adminRoleID: adminRoleID}
}

// Restricted reports whether an admin role is configured.
func (p *PermissionChecker) Restricted() bool {
	return p.adminRoleID != ""
}

// IsAdmin checks whether the message author has the configured role.
// If no role is configured, everyone is an admin. Messages without member
// data (direct messages) are never admin when a role is configured.
func (p *PermissionChecker) IsAdmin(m *discordgo.MessageCreate) bool {
	if p.adminRoleID == "" {
		return true
	}
	if m.Member == nil {
		return false
	}
	return slices.Contains(m.Member.Roles, p.adminRoleID)
}
