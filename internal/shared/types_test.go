package shared

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("sess_")
	if !strings.HasPrefix(id, "sess_") {
		t.Errorf("expected prefix sess_, got %s", id)
	}
	if len(id) != len("sess_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %d", len(id)-len("sess_"))
	}
	if strings.Contains(id, "-") {
		t.Errorf("expected no dashes, got %s", id)
	}
	if NewID("x") == NewID("x") {
		t.Error("expected unique ids")
	}
}

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleBroadcaster, true},
		{RoleViewer, true},
		{Role(""), false},
		{Role("admin"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRole_String(t *testing.T) {
	if RoleViewer.String() != "viewer" {
		t.Errorf("expected viewer, got %s", RoleViewer.String())
	}
	if RoleBroadcaster.String() != "broadcaster" {
		t.Errorf("expected broadcaster, got %s", RoleBroadcaster.String())
	}
}
