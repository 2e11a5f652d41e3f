package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// Utterances implements transcript.Reader.
func (s *Store) Utterances(ctx context.Context, sessionID string) ([]transcript.Utterance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT utterance_id, speaker, text, spoken_at, sequence_index
		FROM utterances WHERE session_id = ? ORDER BY sequence_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list utterances of %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := []transcript.Utterance{}
	for rows.Next() {
		var (
			u       transcript.Utterance
			speaker string
			spoken  int64
		)
		if err := rows.Scan(&u.ID, &speaker, &u.Text, &spoken, &u.SequenceIndex); err != nil {
			return nil, fmt.Errorf("scan utterance of %s: %w", sessionID, err)
		}
		u.Speaker = transcript.Speaker(speaker)
		u.Timestamp = time.Unix(0, spoken).UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read utterances of %s: %w", sessionID, err)
	}
	return out, nil
}

// Append implements transcript.Store.
func (s *Store) Append(ctx context.Context, sessionID string, us ...transcript.Utterance) ([]transcript.Utterance, error) {
	accepted, err := transcript.Prepare(us)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append utterances to %s: %w", sessionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence_index) FROM utterances WHERE session_id = ?`, sessionID,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("read watermark of %s: %w", sessionID, err)
	}
	mark := -1
	if last.Valid {
		mark = int(last.Int64)
	}

	appended := make([]transcript.Utterance, 0, len(accepted))
	for _, u := range accepted {
		if u.SequenceIndex <= mark {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO utterances (session_id, sequence_index, utterance_id, speaker, text, spoken_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, u.SequenceIndex, u.ID, string(u.Speaker), u.Text, u.Timestamp.UTC().UnixNano(),
		); err != nil {
			return nil, fmt.Errorf("insert utterance %d of %s: %w", u.SequenceIndex, sessionID, err)
		}
		appended = append(appended, u)
		mark = u.SequenceIndex
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit utterances of %s: %w", sessionID, err)
	}
	return appended, nil
}
