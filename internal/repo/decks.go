package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"questdeck/internal/domain"
)

// ReplaceDeck stores the deck snapshot for its (org, date) key, overwriting
// any prior snapshot for that day.
func (r Repo) ReplaceDeck(ctx context.Context, d domain.DailyDeck) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO decks(org_id,date,payload_json,generated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id,date) DO UPDATE SET payload_json=excluded.payload_json, generated_at=excluded.generated_at`,
		d.OrgID, d.Date, string(payload), d.GeneratedAt)
	return err
}

func (r Repo) GetDeck(ctx context.Context, orgID, date string) (domain.DailyDeck, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM decks WHERE org_id=? AND date=?`, orgID, date).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.DailyDeck{}, ErrNotFound
	}
	if err != nil {
		return domain.DailyDeck{}, err
	}
	var d domain.DailyDeck
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return domain.DailyDeck{}, err
	}
	return d, nil
}
