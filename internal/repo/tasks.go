package repo

import (
	"context"
	"database/sql"
	"strings"

	"questdeck/internal/domain"
)

const taskColumns = `id,org_id,quest_id,title,description,status,priority,owner_id,estimated_minutes,blockers_json,requires_approval,approved_at,approved_by,position,assignment_json,created_at,updated_at,completed_at,version`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var questID, description, ownerID, blockers, approvedAt, approvedBy, assignment, completedAt sql.NullString
	var requiresApproval int
	err := scan(&t.ID, &t.OrgID, &questID, &t.Title, &description, &t.Status, &t.Priority, &ownerID,
		&t.EstimatedMinutes, &blockers, &requiresApproval, &approvedAt, &approvedBy, &t.Position,
		&assignment, &t.CreatedAt, &t.UpdatedAt, &completedAt, &t.Version)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if questID.Valid {
		t.QuestID = questID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if ownerID.Valid {
		t.OwnerID = &ownerID.String
	}
	t.Blockers = unmarshalStrings(blockers)
	t.RequiresApproval = requiresApproval != 0
	if approvedAt.Valid {
		t.ApprovedAt = &approvedAt.String
	}
	if approvedBy.Valid {
		t.ApprovedBy = &approvedBy.String
	}
	if assignment.Valid {
		t.AssignmentJSON = &assignment.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	blockers, err := marshalJSON(t.Blockers)
	if err != nil {
		return err
	}
	if len(t.Blockers) == 0 {
		blockers = nil
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO tasks(id,org_id,quest_id,title,description,status,priority,owner_id,estimated_minutes,blockers_json,requires_approval,approved_at,approved_by,position,assignment_json,created_at,updated_at,completed_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		t.ID, t.OrgID, nullable(t.QuestID), t.Title, nullable(t.Description), t.Status, t.Priority,
		nullableStringPtr(t.OwnerID), t.EstimatedMinutes, blockers, boolToInt(t.RequiresApproval),
		nullableStringPtr(t.ApprovedAt), nullableStringPtr(t.ApprovedBy), t.Position,
		nullableStringPtr(t.AssignmentJSON), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	OrgID   string
	QuestID string
	Status  string
	OwnerID string
	Limit   int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	clauses, args = appendClause(clauses, args, "org_id", f.OrgID)
	clauses, args = appendClause(clauses, args, "quest_id", f.QuestID)
	clauses, args = appendClause(clauses, args, "status", f.Status)
	clauses, args = appendClause(clauses, args, "owner_id", f.OwnerID)
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY position ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTask writes the task back under the same guard contract as
// UpdateQuest: nil expected means last writer wins, a stale expected returns
// *ConflictError with the latest record and applies nothing.
func (r Repo) UpdateTask(ctx context.Context, t domain.Task, expected *int64) (domain.Task, error) {
	blockers, err := marshalJSON(t.Blockers)
	if err != nil {
		return t, err
	}
	if len(t.Blockers) == 0 {
		blockers = nil
	}
	query := `UPDATE tasks SET quest_id=?, title=?, description=?, status=?, priority=?, owner_id=?, estimated_minutes=?, blockers_json=?, requires_approval=?, approved_at=?, approved_by=?, position=?, assignment_json=?, updated_at=?, completed_at=?, version=version+1 WHERE id=?`
	args := []any{nullable(t.QuestID), t.Title, nullable(t.Description), t.Status, t.Priority,
		nullableStringPtr(t.OwnerID), t.EstimatedMinutes, blockers, boolToInt(t.RequiresApproval),
		nullableStringPtr(t.ApprovedAt), nullableStringPtr(t.ApprovedBy), t.Position,
		nullableStringPtr(t.AssignmentJSON), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID}
	if expected != nil {
		query += ` AND version=?`
		args = append(args, *expected)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return t, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		latest, err := r.GetTask(ctx, t.ID)
		if err != nil {
			return t, err
		}
		if expected == nil {
			return t, ErrNotFound
		}
		return t, &ConflictError{Kind: "task", ID: t.ID, Expected: *expected, Actual: latest.Version, Latest: latest}
	}
	return r.GetTask(ctx, t.ID)
}

// WorkloadMinutes sums estimated minutes of open tasks per owner for an org.
func (r Repo) WorkloadMinutes(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT owner_id, COALESCE(SUM(estimated_minutes),0) FROM tasks
WHERE org_id=? AND owner_id IS NOT NULL AND status != 'done' GROUP BY owner_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var owner string
		var minutes int
		if err := rows.Scan(&owner, &minutes); err != nil {
			return nil, err
		}
		res[owner] = minutes
	}
	return res, rows.Err()
}
