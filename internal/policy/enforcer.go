// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package policy provides the policy store and enforcer: a Casbin-backed
// evaluation of (subject-role, resource, action) allow tuples with
// default-deny semantics.
//
// The rule set lives behind casbin.SyncedEnforcer's reader/writer lock:
// evaluations proceed concurrently, and a reload builds the new rule set in
// the adapter before swapping it in under a short exclusive section, so
// concurrent evaluations observe either the old or the new set in full.
package policy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/palisade-server/palisade/internal/config"
	"github.com/palisade-server/palisade/internal/logging"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// ErrNoAdapter is returned when Reload or Save is called but the enforcer is
// running on the embedded policy with no backing store.
var ErrNoAdapter = errors.New("no policy adapter configured; using embedded policy")

// Enforcer wraps the Casbin enforcer with caching, reload, and the policy
// mutation surface used by the administrative channel.
type Enforcer struct {
	cfg        *config.CasbinConfig
	enforcer   *casbin.SyncedEnforcer
	cache      *decisionCache
	hasAdapter bool
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewEnforcer creates an enforcer.
//
// The rule source is chosen in priority order: the given adapter (database
// rows), then cfg.PolicyPath (CSV file), then the embedded default policy.
// The model comes from cfg.ModelPath or the embedded model.
func NewEnforcer(ctx context.Context, cfg *config.CasbinConfig, adapter persist.Adapter) (*Enforcer, error) {
	if cfg == nil {
		cfg = &config.CasbinConfig{
			AutoReload:     false,
			CacheEnabled:   true,
			CacheTTL:       5 * time.Minute,
			ReloadInterval: 30 * time.Second,
		}
	}

	m, err := loadModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	hasAdapter := false

	switch {
	case adapter != nil:
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
		hasAdapter = true
	case cfg.PolicyPath != "" && fileExists(cfg.PolicyPath):
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
		hasAdapter = true
	default:
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{
		cfg:        cfg,
		enforcer:   enforcer,
		hasAdapter: hasAdapter,
		stopChan:   make(chan struct{}),
	}

	if cfg.CacheEnabled {
		e.cache = newDecisionCache(cfg.CacheTTL)
	}

	if cfg.AutoReload && hasAdapter && cfg.ReloadInterval > 0 {
		go e.autoReload(cfg.ReloadInterval)
	}

	return e, nil
}

func loadModel(path string) (model.Model, error) {
	var m model.Model
	var err error
	if path != "" && fileExists(path) {
		m, err = model.NewModelFromFile(path)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	return m, nil
}

// loadEmbeddedPolicy parses and loads the embedded policy CSV.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch parts[0] {
		case "p":
			if len(parts) >= 4 {
				if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
					return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
				}
			}
		case "g":
			if len(parts) >= 3 {
				if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
					return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
				}
			}
		}
	}
	return nil
}

// Evaluate reports whether any of the given roles is allowed to perform the
// action on the resource. No matching rule means deny. Safe for concurrent
// use; pure with respect to the current rule set.
func (e *Enforcer) Evaluate(roles []string, resource, action string) (bool, error) {
	subjectKey := strings.Join(roles, ",")

	if e.cache != nil {
		if allowed, ok := e.cache.get(subjectKey, resource, action); ok {
			return allowed, nil
		}
	}

	allowed := false
	for _, role := range roles {
		ok, err := e.enforcer.Enforce(role, resource, action)
		if err != nil {
			return false, fmt.Errorf("enforcement failed: %w", err)
		}
		if ok {
			allowed = true
			break
		}
	}

	if e.cache != nil {
		e.cache.set(subjectKey, resource, action, allowed)
	}

	return allowed, nil
}

// Reload re-reads the rule set from the backing store. The new set is built
// off to the side by the adapter; the swap itself is the only exclusive
// section, so concurrent Evaluate calls never observe a partial rule set.
func (e *Enforcer) Reload(ctx context.Context) error {
	if !e.hasAdapter {
		return ErrNoAdapter
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		RecordPolicyReload(false)
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	if e.cache != nil {
		e.cache.clear()
	}
	RecordPolicyReload(true)
	e.updatePolicyStats()
	return nil
}

// autoReload periodically refreshes the rule set from the backing store.
func (e *Enforcer) autoReload(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if err := e.Reload(context.Background()); err != nil {
				logging.Err(err).Msg("periodic policy reload failed")
			}
		}
	}
}

// AddRule adds an allow tuple. Administrative channel only.
func (e *Enforcer) AddRule(subject, resource, action string) (bool, error) {
	added, err := e.enforcer.AddPolicy(subject, resource, action)
	if err != nil {
		return false, fmt.Errorf("failed to add policy: %w", err)
	}
	if e.cache != nil {
		e.cache.clear()
	}
	e.updatePolicyStats()
	return added, nil
}

// RemoveRule removes an allow tuple. Administrative channel only.
func (e *Enforcer) RemoveRule(subject, resource, action string) (bool, error) {
	removed, err := e.enforcer.RemovePolicy(subject, resource, action)
	if err != nil {
		return false, fmt.Errorf("failed to remove policy: %w", err)
	}
	if e.cache != nil {
		e.cache.clear()
	}
	e.updatePolicyStats()
	return removed, nil
}

// AddRoleInheritance adds a g edge (child role inherits parent's rules).
func (e *Enforcer) AddRoleInheritance(child, parent string) (bool, error) {
	added, err := e.enforcer.AddGroupingPolicy(child, parent)
	if err != nil {
		return false, fmt.Errorf("failed to add grouping policy: %w", err)
	}
	if e.cache != nil {
		e.cache.clear()
	}
	return added, nil
}

// Rules returns all allow tuples.
func (e *Enforcer) Rules() [][]string {
	//nolint:errcheck // GetPolicy only fails if the enforcer is nil
	rules, _ := e.enforcer.GetPolicy()
	return rules
}

// GroupingRules returns all role inheritance edges.
func (e *Enforcer) GroupingRules() [][]string {
	//nolint:errcheck // GetGroupingPolicy only fails if the enforcer is nil
	rules, _ := e.enforcer.GetGroupingPolicy()
	return rules
}

func (e *Enforcer) updatePolicyStats() {
	UpdatePolicyStats(len(e.Rules()), len(e.GroupingRules()))
}

// Close stops background work.
func (e *Enforcer) Close() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	if e.cache != nil {
		e.cache.stop()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
