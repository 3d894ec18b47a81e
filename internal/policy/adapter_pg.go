// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAdapter is a casbin persist.Adapter backed by a Postgres rule table.
// Policy rows are durable and mutated only through the enforcer's
// administrative surface; LoadPolicy builds the full rule set off to the
// side so the enforcer's swap stays short.
type PGAdapter struct {
	pool  *pgxpool.Pool
	table string
}

// ruleColumns is the fixed casbin rule width (ptype + v0..v5).
const ruleColumns = 6

// NewPGAdapter creates a Postgres-backed policy adapter.
func NewPGAdapter(pool *pgxpool.Pool) *PGAdapter {
	return &PGAdapter{pool: pool, table: "casbin_rules"}
}

// EnsureSchema creates the rule table when missing. Called once at startup.
func (a *PGAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id    BIGSERIAL PRIMARY KEY,
			ptype TEXT NOT NULL,
			v0    TEXT NOT NULL DEFAULT '',
			v1    TEXT NOT NULL DEFAULT '',
			v2    TEXT NOT NULL DEFAULT '',
			v3    TEXT NOT NULL DEFAULT '',
			v4    TEXT NOT NULL DEFAULT '',
			v5    TEXT NOT NULL DEFAULT ''
		)`, a.table))
	if err != nil {
		return fmt.Errorf("failed to ensure policy table: %w", err)
	}
	return nil
}

// LoadPolicy loads all rules from the table into the model.
func (a *PGAdapter) LoadPolicy(m model.Model) error {
	ctx := context.Background()

	rows, err := a.pool.Query(ctx, fmt.Sprintf(
		"SELECT ptype, v0, v1, v2, v3, v4, v5 FROM %s ORDER BY id", a.table))
	if err != nil {
		return fmt.Errorf("failed to query policy rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ptype string
		vals := make([]string, ruleColumns)
		if err := rows.Scan(&ptype, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5]); err != nil {
			return fmt.Errorf("failed to scan policy row: %w", err)
		}

		// Trim trailing empty columns so short rules round-trip cleanly.
		end := len(vals)
		for end > 0 && vals[end-1] == "" {
			end--
		}
		if err := persist.LoadPolicyArray(append([]string{ptype}, vals[:end]...), m); err != nil {
			return fmt.Errorf("failed to load policy rule: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate policy rows: %w", err)
	}
	return nil
}

// SavePolicy replaces the table contents with the model's current rules.
func (a *PGAdapter) SavePolicy(m model.Model) error {
	ctx := context.Background()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin policy save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", a.table)); err != nil {
		return fmt.Errorf("failed to clear policy table: %w", err)
	}

	for _, sec := range []string{"p", "g"} {
		for ptype, ast := range m[sec] {
			for _, rule := range ast.Policy {
				if err := a.insertRule(ctx, tx, ptype, rule); err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit policy save: %w", err)
	}
	return nil
}

func (a *PGAdapter) insertRule(ctx context.Context, tx pgx.Tx, ptype string, rule []string) error {
	vals := padRule(rule)
	_, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (ptype, v0, v1, v2, v3, v4, v5) VALUES ($1, $2, $3, $4, $5, $6, $7)", a.table),
		ptype, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
	if err != nil {
		return fmt.Errorf("failed to insert policy rule %v: %w", rule, err)
	}
	return nil
}

// AddPolicy appends a single rule row.
func (a *PGAdapter) AddPolicy(_ string, ptype string, rule []string) error {
	vals := padRule(rule)
	_, err := a.pool.Exec(context.Background(), fmt.Sprintf(
		"INSERT INTO %s (ptype, v0, v1, v2, v3, v4, v5) VALUES ($1, $2, $3, $4, $5, $6, $7)", a.table),
		ptype, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
	if err != nil {
		return fmt.Errorf("failed to add policy rule %v: %w", rule, err)
	}
	return nil
}

// RemovePolicy deletes the exact rule row.
func (a *PGAdapter) RemovePolicy(_ string, ptype string, rule []string) error {
	vals := padRule(rule)
	_, err := a.pool.Exec(context.Background(), fmt.Sprintf(
		"DELETE FROM %s WHERE ptype = $1 AND v0 = $2 AND v1 = $3 AND v2 = $4 AND v3 = $5 AND v4 = $6 AND v5 = $7",
		a.table),
		ptype, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
	if err != nil {
		return fmt.Errorf("failed to remove policy rule %v: %w", rule, err)
	}
	return nil
}

// RemoveFilteredPolicy deletes rules matching the given field values starting
// at fieldIndex. Empty values match any.
func (a *PGAdapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	conds := []string{"ptype = $1"}
	args := []any{ptype}

	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		col := fieldIndex + i
		if col >= ruleColumns {
			return fmt.Errorf("field index %d out of range", col)
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("v%d = $%d", col, len(args)))
	}

	_, err := a.pool.Exec(context.Background(), fmt.Sprintf(
		"DELETE FROM %s WHERE %s", a.table, strings.Join(conds, " AND ")), args...)
	if err != nil {
		return fmt.Errorf("failed to remove filtered policy rules: %w", err)
	}
	return nil
}

// padRule pads a rule out to the fixed column width.
func padRule(rule []string) []string {
	vals := make([]string, ruleColumns)
	copy(vals, rule)
	return vals
}
