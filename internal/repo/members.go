package repo

import (
	"context"
	"database/sql"

	"questdeck/internal/domain"
)

func (r Repo) UpsertMember(ctx context.Context, m domain.Member) error {
	top2, err := marshalJSON(m.Top2)
	if err != nil {
		return err
	}
	comp2, err := marshalJSON(m.Competency2)
	if err != nil {
		return err
	}
	fru2, err := marshalJSON(m.Frustration2)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO members(id,org_id,name,top2_json,competency2_json,frustration2_json,daily_capacity_minutes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, top2_json=excluded.top2_json, competency2_json=excluded.competency2_json,
frustration2_json=excluded.frustration2_json, daily_capacity_minutes=excluded.daily_capacity_minutes, updated_at=excluded.updated_at`,
		m.ID, m.OrgID, m.Name, top2, comp2, fru2, m.DailyCapacityMinutes, m.CreatedAt, m.UpdatedAt)
	return err
}

func scanMember(scan func(dest ...any) error) (domain.Member, error) {
	var m domain.Member
	var top2, comp2, fru2 sql.NullString
	err := scan(&m.ID, &m.OrgID, &m.Name, &top2, &comp2, &fru2, &m.DailyCapacityMinutes, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.Top2 = unmarshalStrings(top2)
	m.Competency2 = unmarshalStrings(comp2)
	m.Frustration2 = unmarshalStrings(fru2)
	return m, nil
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.Member, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,top2_json,competency2_json,frustration2_json,daily_capacity_minutes,created_at,updated_at FROM members WHERE id=?`, id)
	return scanMember(row.Scan)
}

func (r Repo) ListMembers(ctx context.Context, orgID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,top2_json,competency2_json,frustration2_json,daily_capacity_minutes,created_at,updated_at FROM members WHERE org_id=? ORDER BY id ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		m, err := scanMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
