// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package rbac

import (
	"context"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/palisade-server/palisade/internal/apperror"
	"github.com/palisade-server/palisade/internal/logging"
	"github.com/palisade-server/palisade/internal/policy"
)

// Service is the authorization choke point. Every permission question in the
// system goes through CheckAccess; callers never consult the policy engine
// directly.
type Service struct {
	enforcer *policy.Enforcer
	audit    *AuditLogger
}

// NewService creates the authorization service. audit may be nil to disable
// audit logging.
func NewService(enforcer *policy.Enforcer, audit *AuditLogger) *Service {
	return &Service{
		enforcer: enforcer,
		audit:    audit,
	}
}

// CheckAccess reports whether any of the given roles may perform action on
// resource. A nil return means allowed; apperror.ErrForbidden means the
// policy denied the request; any other error means the policy engine itself
// failed and the caller must treat the request as not allowed.
func (s *Service) CheckAccess(ctx context.Context, roles []string, resource, action string) error {
	return s.CheckAccessAs(ctx, "", roles, resource, action)
}

// CheckAccessAs is CheckAccess with the acting user's ID attached to the
// audit trail. actorID may be empty for system-internal checks.
func (s *Service) CheckAccessAs(ctx context.Context, actorID string, roles []string, resource, action string) error {
	start := time.Now()

	allowed, err := s.enforcer.Evaluate(roles, resource, action)
	duration := time.Since(start)

	if err != nil {
		RecordError("enforcer_error")
		logging.Err(err).
			Strs("roles", roles).
			Str("resource", resource).
			Str("action", action).
			Msg("policy evaluation failed")
		s.logAudit(ctx, actorID, roles, resource, action, false, duration, err)
		return apperror.Wrap(apperror.KindPolicyEngine, err)
	}

	for _, role := range roles {
		RecordDecision(role, resource, action, allowed, duration)
	}
	if len(roles) == 0 {
		RecordDecision("", resource, action, allowed, duration)
	}

	s.logAudit(ctx, actorID, roles, resource, action, allowed, duration, nil)

	if !allowed {
		logging.Debug().
			Str("actor_id", actorID).
			Strs("roles", roles).
			Str("resource", resource).
			Str("action", action).
			Msg("access denied")
		return apperror.ErrForbidden
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, actorID string, roles []string, resource, action string, allowed bool, duration time.Duration, evalErr error) {
	if s.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
		Roles:     roles,
		Resource:  resource,
		Action:    action,
		Allowed:   allowed,
		Duration:  duration,
		RequestID: chimiddleware.GetReqID(ctx),
	}
	if evalErr != nil {
		event.Error = evalErr.Error()
	}
	s.audit.Log(event)
}

// Reload refreshes the rule set from the backing store.
func (s *Service) Reload(ctx context.Context) error {
	if err := s.enforcer.Reload(ctx); err != nil {
		return apperror.Wrap(apperror.KindPolicyEngine, err)
	}
	return nil
}

// Rules returns all allow tuples. Administrative channel only.
func (s *Service) Rules() [][]string {
	return s.enforcer.Rules()
}

// GroupingRules returns all role inheritance edges. Administrative channel only.
func (s *Service) GroupingRules() [][]string {
	return s.enforcer.GroupingRules()
}

// AddRule adds an allow tuple. Administrative channel only.
func (s *Service) AddRule(ctx context.Context, subject, resource, action string) (bool, error) {
	added, err := s.enforcer.AddRule(subject, resource, action)
	if err != nil {
		return false, apperror.Wrap(apperror.KindPolicyEngine, err)
	}
	if added {
		logging.Info().
			Str("subject", subject).
			Str("resource", resource).
			Str("action", action).
			Msg("policy rule added")
	}
	return added, nil
}

// RemoveRule removes an allow tuple. Administrative channel only.
func (s *Service) RemoveRule(ctx context.Context, subject, resource, action string) (bool, error) {
	removed, err := s.enforcer.RemoveRule(subject, resource, action)
	if err != nil {
		return false, apperror.Wrap(apperror.KindPolicyEngine, err)
	}
	if removed {
		logging.Info().
			Str("subject", subject).
			Str("resource", resource).
			Str("action", action).
			Msg("policy rule removed")
	}
	return removed, nil
}

// AddRoleInheritance makes child inherit parent's rules. Administrative
// channel only.
func (s *Service) AddRoleInheritance(ctx context.Context, child, parent string) (bool, error) {
	added, err := s.enforcer.AddRoleInheritance(child, parent)
	if err != nil {
		return false, apperror.Wrap(apperror.KindPolicyEngine, err)
	}
	if added {
		logging.Info().
			Str("child", child).
			Str("parent", parent).
			Msg("role inheritance added")
	}
	return added, nil
}

// Close flushes the audit buffer.
func (s *Service) Close() {
	if s.audit != nil {
		s.audit.Close()
	}
}
