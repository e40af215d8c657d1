package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"questdeck/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ConflictError is returned by guarded writes when the caller's expected
// version does not match current state. Latest carries the full current
// record so the caller can re-render and retry with informed intent.
type ConflictError struct {
	Kind     string
	ID       string
	Expected int64
	Actual   int64
	Latest   any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %d, current %d", e.Kind, e.ID, e.Expected, e.Actual)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalStrings(src sql.NullString) []string {
	if !src.Valid || src.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(src.String), &out)
	return out
}

func (r Repo) InsertGoal(ctx context.Context, g domain.Goal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO goals(id,org_id,title,description,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		g.ID, g.OrgID, g.Title, nullable(g.Description), g.Status, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	var g domain.Goal
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,title,description,status,created_at,updated_at FROM goals WHERE id=?`, id).
		Scan(&g.ID, &g.OrgID, &g.Title, &desc, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if desc.Valid {
		g.Description = desc.String
	}
	return g, err
}

func (r Repo) UpdateGoalStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE goals SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListGoals(ctx context.Context, orgID string) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,title,COALESCE(description,'') AS description,status,created_at,updated_at FROM goals WHERE org_id=? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		var g domain.Goal
		if err := rows.Scan(&g.ID, &g.OrgID, &g.Title, &g.Description, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) InsertQuestline(ctx context.Context, ql domain.Questline) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO questlines(id,org_id,goal_id,title,created_at) VALUES (?,?,?,?,?)`,
		ql.ID, ql.OrgID, ql.GoalID, ql.Title, ql.CreatedAt)
	return err
}

func (r Repo) GetQuestline(ctx context.Context, id string) (domain.Questline, error) {
	var ql domain.Questline
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,goal_id,title,created_at FROM questlines WHERE id=?`, id).
		Scan(&ql.ID, &ql.OrgID, &ql.GoalID, &ql.Title, &ql.CreatedAt)
	if err == sql.ErrNoRows {
		return ql, ErrNotFound
	}
	if err != nil {
		return ql, err
	}
	ql.QuestIDs, err = r.listQuestIDs(ctx, id)
	return ql, err
}

func (r Repo) ListQuestlines(ctx context.Context, orgID string) ([]domain.Questline, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,goal_id,title,created_at FROM questlines WHERE org_id=? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Questline
	for rows.Next() {
		var ql domain.Questline
		if err := rows.Scan(&ql.ID, &ql.OrgID, &ql.GoalID, &ql.Title, &ql.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ql)
	}
	return res, rows.Err()
}

func (r Repo) listQuestIDs(ctx context.Context, questlineID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM quests WHERE questline_id=? ORDER BY position ASC, id ASC`, questlineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func appendClause(clauses []string, args []any, field, value string) ([]string, []any) {
	if value == "" {
		return clauses, args
	}
	return append(clauses, field+"=?"), append(args, value)
}
