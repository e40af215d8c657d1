package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"questdeck/internal/domain"
)

const questColumns = `id,org_id,questline_id,title,state,unlock_conditions_json,position,unlocked_at,completed_at,created_at,updated_at,version`

func scanQuest(scan func(dest ...any) error) (domain.Quest, error) {
	var q domain.Quest
	var questlineID, conds, unlockedAt, completedAt sql.NullString
	err := scan(&q.ID, &q.OrgID, &questlineID, &q.Title, &q.State, &conds, &q.Position, &unlockedAt, &completedAt, &q.CreatedAt, &q.UpdatedAt, &q.Version)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	if questlineID.Valid {
		q.QuestlineID = questlineID.String
	}
	if conds.Valid && conds.String != "" {
		if err := json.Unmarshal([]byte(conds.String), &q.UnlockConditions); err != nil {
			return q, err
		}
	}
	if unlockedAt.Valid {
		q.UnlockedAt = &unlockedAt.String
	}
	if completedAt.Valid {
		q.CompletedAt = &completedAt.String
	}
	return q, nil
}

func (r Repo) InsertQuest(ctx context.Context, q domain.Quest) error {
	conds, err := marshalJSON(q.UnlockConditions)
	if err != nil {
		return err
	}
	if len(q.UnlockConditions) == 0 {
		conds = nil
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO quests(id,org_id,questline_id,title,state,unlock_conditions_json,position,unlocked_at,completed_at,created_at,updated_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?,1)`,
		q.ID, q.OrgID, nullable(q.QuestlineID), q.Title, q.State, conds, q.Position,
		nullableStringPtr(q.UnlockedAt), nullableStringPtr(q.CompletedAt), q.CreatedAt, q.UpdatedAt)
	return err
}

func (r Repo) GetQuest(ctx context.Context, id string) (domain.Quest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+questColumns+` FROM quests WHERE id=?`, id)
	q, err := scanQuest(row.Scan)
	if err != nil {
		return q, err
	}
	q.TaskIDs, err = r.listTaskIDs(ctx, id)
	return q, err
}

func (r Repo) ListQuests(ctx context.Context, orgID string) ([]domain.Quest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+questColumns+` FROM quests WHERE org_id=? ORDER BY position ASC, id ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quest
	for rows.Next() {
		q, err := scanQuest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) listTaskIDs(ctx context.Context, questID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tasks WHERE quest_id=? ORDER BY position ASC, id ASC`, questID)
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

// UpdateQuest writes the quest back. When expected is non-nil the write only
// applies if the stored version still matches; a mismatch returns
// *ConflictError with the latest record and changes nothing. With a nil
// expected the write is unconditional (last writer wins). Every successful
// write bumps the version.
func (r Repo) UpdateQuest(ctx context.Context, q domain.Quest, expected *int64) (domain.Quest, error) {
	conds, err := marshalJSON(q.UnlockConditions)
	if err != nil {
		return q, err
	}
	if len(q.UnlockConditions) == 0 {
		conds = nil
	}
	query := `UPDATE quests SET questline_id=?, title=?, state=?, unlock_conditions_json=?, position=?, unlocked_at=?, completed_at=?, updated_at=?, version=version+1 WHERE id=?`
	args := []any{nullable(q.QuestlineID), q.Title, q.State, conds, q.Position,
		nullableStringPtr(q.UnlockedAt), nullableStringPtr(q.CompletedAt), q.UpdatedAt, q.ID}
	if expected != nil {
		query += ` AND version=?`
		args = append(args, *expected)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return q, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		latest, err := r.GetQuest(ctx, q.ID)
		if err != nil {
			return q, err
		}
		if expected == nil {
			return q, ErrNotFound
		}
		return q, &ConflictError{Kind: "quest", ID: q.ID, Expected: *expected, Actual: latest.Version, Latest: latest}
	}
	return r.GetQuest(ctx, q.ID)
}
