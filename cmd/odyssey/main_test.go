package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/retail-console/internal/auth"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/stepup"
)

func TestDropStaleConfirmations(t *testing.T) {
	m := stepup.NewManager(stepup.Config{}, time.Minute)
	handle := dropStaleConfirmations(m)
	p := rbac.NewPrincipal(rbac.PrincipalParams{ID: "admin-1", Role: rbac.RoleOrgAdmin, OrganizationID: "org-1"})
	open := func(key string) {
		_, err := m.For(key).Request(p, stepup.Request{
			Action:     "change role",
			Permission: rbac.Permission{Module: rbac.ModuleStaff, Action: rbac.ActionManage},
			OnConfirm:  func(context.Context) error { return nil },
		})
		require.NoError(t, err)
	}

	open("sess-1")
	handle(auth.SessionEvent{Kind: auth.SessionLogin, SessionID: "sess-1", Principal: p})
	require.Equal(t, stepup.StateRequested, m.For("sess-1").Snapshot().State)

	handle(auth.SessionEvent{Kind: auth.SessionRefresh, SessionID: "sess-1", Principal: p})
	require.Equal(t, stepup.StateIdle, m.For("sess-1").Snapshot().State)

	open("sess-2")
	handle(auth.SessionEvent{Kind: auth.SessionLogout, SessionID: "sess-2"})
	require.Equal(t, stepup.StateIdle, m.For("sess-2").Snapshot().State)
}
