// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-server/palisade/internal/config"
)

func testConfig() *config.CasbinConfig {
	return &config.CasbinConfig{
		AutoReload:   false,
		CacheEnabled: false,
	}
}

func newTestEnforcer(t *testing.T, cfg *config.CasbinConfig) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestEmbeddedPolicyLoads(t *testing.T) {
	e := newTestEnforcer(t, testConfig())
	assert.NotEmpty(t, e.Rules())
	assert.NotEmpty(t, e.GroupingRules())
}

func TestDefaultDeny(t *testing.T) {
	e := newTestEnforcer(t, testConfig())

	tests := []struct {
		name     string
		roles    []string
		resource string
		action   string
	}{
		{"unknown role", []string{"ghost"}, "projects", "read"},
		{"unknown resource", []string{"admin"}, "nonexistent", "read"},
		{"unknown action", []string{"admin"}, "projects", "teleport"},
		{"no roles at all", nil, "projects", "read"},
		{"empty role", []string{""}, "projects", "read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := e.Evaluate(tt.roles, tt.resource, tt.action)
			require.NoError(t, err)
			assert.False(t, allowed)
		})
	}
}

func TestRoleUnion(t *testing.T) {
	// Access is granted if any held role is allowed; the union of roles
	// never subtracts permissions.
	e := newTestEnforcer(t, testConfig())

	viewerOnly, err := e.Evaluate([]string{"viewer"}, "projects", "write")
	require.NoError(t, err)
	assert.False(t, viewerOnly)

	withEditor, err := e.Evaluate([]string{"viewer", "editor"}, "projects", "write")
	require.NoError(t, err)
	assert.True(t, withEditor)

	orderFlipped, err := e.Evaluate([]string{"editor", "viewer"}, "projects", "write")
	require.NoError(t, err)
	assert.True(t, orderFlipped)
}

func TestRoleInheritance(t *testing.T) {
	// admin inherits editor, editor inherits viewer.
	e := newTestEnforcer(t, testConfig())

	allowed, err := e.Evaluate([]string{"admin"}, "projects", "read")
	require.NoError(t, err)
	assert.True(t, allowed, "admin should inherit viewer's read")

	allowed, err = e.Evaluate([]string{"editor"}, "projects", "read")
	require.NoError(t, err)
	assert.True(t, allowed, "editor should inherit viewer's read")

	allowed, err = e.Evaluate([]string{"viewer"}, "policies", "write")
	require.NoError(t, err)
	assert.False(t, allowed, "inheritance never flows downward")
}

func TestAddAndRemoveRule(t *testing.T) {
	e := newTestEnforcer(t, testConfig())

	allowed, err := e.Evaluate([]string{"auditor"}, "reports", "read")
	require.NoError(t, err)
	require.False(t, allowed)

	added, err := e.AddRule("auditor", "reports", "read")
	require.NoError(t, err)
	assert.True(t, added)

	allowed, err = e.Evaluate([]string{"auditor"}, "reports", "read")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Adding the same rule again is a no-op.
	added, err = e.AddRule("auditor", "reports", "read")
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := e.RemoveRule("auditor", "reports", "read")
	require.NoError(t, err)
	assert.True(t, removed)

	allowed, err = e.Evaluate([]string{"auditor"}, "reports", "read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAddRoleInheritance(t *testing.T) {
	e := newTestEnforcer(t, testConfig())

	allowed, err := e.Evaluate([]string{"intern"}, "projects", "read")
	require.NoError(t, err)
	require.False(t, allowed)

	added, err := e.AddRoleInheritance("intern", "viewer")
	require.NoError(t, err)
	assert.True(t, added)

	allowed, err = e.Evaluate([]string{"intern"}, "projects", "read")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestReloadWithoutAdapter(t *testing.T) {
	e := newTestEnforcer(t, testConfig())
	assert.ErrorIs(t, e.Reload(context.Background()), ErrNoAdapter)
}

func TestReloadFromFile(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(policyPath, []byte("p, viewer, projects, read\n"), 0o600))

	cfg := testConfig()
	cfg.PolicyPath = policyPath
	e := newTestEnforcer(t, cfg)

	allowed, err := e.Evaluate([]string{"viewer"}, "projects", "read")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = e.Evaluate([]string{"viewer"}, "reports", "read")
	require.NoError(t, err)
	require.False(t, allowed)

	// Grow the rule set on disk, then reload.
	require.NoError(t, os.WriteFile(policyPath,
		[]byte("p, viewer, projects, read\np, viewer, reports, read\n"), 0o600))
	require.NoError(t, e.Reload(context.Background()))

	allowed, err = e.Evaluate([]string{"viewer"}, "reports", "read")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestReloadIsAtomicUnderConcurrentEvaluation(t *testing.T) {
	// Evaluations running concurrently with reloads must always see a
	// complete rule set: the granted tuple stays granted through every
	// reload cycle.
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(policyPath, []byte("p, viewer, projects, read\n"), 0o600))

	cfg := testConfig()
	cfg.PolicyPath = policyPath
	e := newTestEnforcer(t, cfg)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	failures := make(chan string, 64)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				allowed, err := e.Evaluate([]string{"viewer"}, "projects", "read")
				if err != nil {
					select {
					case failures <- err.Error():
					default:
					}
					return
				}
				if !allowed {
					select {
					case failures <- "observed deny during reload":
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, e.Reload(context.Background()))
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-failures:
		t.Fatal(msg)
	default:
	}
}

func TestDecisionCacheClearedOnMutation(t *testing.T) {
	cfg := testConfig()
	cfg.CacheEnabled = true
	cfg.CacheTTL = time.Minute
	e := newTestEnforcer(t, cfg)

	allowed, err := e.Evaluate([]string{"auditor"}, "reports", "read")
	require.NoError(t, err)
	require.False(t, allowed)

	_, err = e.AddRule("auditor", "reports", "read")
	require.NoError(t, err)

	// The cached deny must not survive the mutation.
	allowed, err = e.Evaluate([]string{"auditor"}, "reports", "read")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEvaluateIsPure(t *testing.T) {
	// Repeated evaluation with the same inputs yields the same result and
	// leaves the rule set untouched.
	e := newTestEnforcer(t, testConfig())
	before := len(e.Rules())

	for i := 0; i < 10; i++ {
		allowed, err := e.Evaluate([]string{"viewer"}, "projects", "read")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, before, len(e.Rules()))
}
