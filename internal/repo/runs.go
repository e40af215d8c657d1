package repo

import (
	"context"
	"database/sql"

	"questdeck/internal/domain"
)

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	warnings, err := marshalJSON(run.Warnings)
	if err != nil {
		return err
	}
	if len(run.Warnings) == 0 {
		warnings = nil
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO runs(id,org_id,status,failed_stage,quests_unlocked,tasks_assigned,deck_size,warnings_json,correlation_id,started_at,finished_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.OrgID, run.Status, nullable(run.FailedStage), run.QuestsUnlocked, run.TasksAssigned,
		run.DeckSize, warnings, run.CorrelationID, run.StartedAt, run.FinishedAt)
	return err
}

func (r Repo) ListRuns(ctx context.Context, orgID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,status,failed_stage,quests_unlocked,tasks_assigned,deck_size,warnings_json,correlation_id,started_at,finished_at
FROM runs WHERE org_id=? ORDER BY started_at DESC, id DESC LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		var run domain.Run
		var failedStage, warnings sql.NullString
		if err := rows.Scan(&run.ID, &run.OrgID, &run.Status, &failedStage, &run.QuestsUnlocked,
			&run.TasksAssigned, &run.DeckSize, &warnings, &run.CorrelationID, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		if failedStage.Valid {
			run.FailedStage = failedStage.String
		}
		run.Warnings = unmarshalStrings(warnings)
		res = append(res, run)
	}
	return res, rows.Err()
}
