package postgres

import (
	"context"
	"time"

	"github.com/Strob0t/flowboard/internal/domain/flow"
)

// --- Daily snapshots ---

const snapshotColumns = `board_id, snapshot_date, per_column_counts, cards_completed, avg_lead_time_hours, avg_cycle_time_hours, total_wip, fingerprint`

func scanSnapshot(row scannable) (flow.DailySnapshot, error) {
	var (
		snap flow.DailySnapshot
		day  time.Time
	)
	err := row.Scan(&snap.BoardID, &day, &snap.PerColumnCounts, &snap.CardsCompleted,
		&snap.AvgLeadTimeHours, &snap.AvgCycleTimeHours, &snap.TotalWIP, &snap.Fingerprint)
	snap.Date = flow.DateFromTime(day)
	if snap.PerColumnCounts == nil {
		snap.PerColumnCounts = map[string]int{}
	}
	return snap, err
}

func (s *Store) GetSnapshot(ctx context.Context, boardID string, date flow.Date) (*flow.DailySnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM daily_snapshots WHERE board_id = $1 AND snapshot_date = $2`,
		boardID, date.Time()))
	if err != nil {
		return nil, notFoundWrap(err, "get snapshot %s/%s", boardID, date)
	}
	return &snap, nil
}

// UpsertSnapshot is a single statement: readers see either the old row or
// the new one. The conflict branch only fires when the fingerprint differs.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *flow.DailySnapshot) (bool, error) {
	counts := snap.PerColumnCounts
	if counts == nil {
		counts = map[string]int{}
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO daily_snapshots (`+snapshotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (board_id, snapshot_date) DO UPDATE SET
		   per_column_counts = EXCLUDED.per_column_counts,
		   cards_completed = EXCLUDED.cards_completed,
		   avg_lead_time_hours = EXCLUDED.avg_lead_time_hours,
		   avg_cycle_time_hours = EXCLUDED.avg_cycle_time_hours,
		   total_wip = EXCLUDED.total_wip,
		   fingerprint = EXCLUDED.fingerprint,
		   recorded_at = now()
		 WHERE daily_snapshots.fingerprint <> EXCLUDED.fingerprint`,
		snap.BoardID, snap.Date.Time(), counts, snap.CardsCompleted,
		snap.AvgLeadTimeHours, snap.AvgCycleTimeHours, snap.TotalWIP, snap.Fingerprint)
	if err != nil {
		return false, storageErr(err, "upsert snapshot %s/%s", snap.BoardID, snap.Date)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListSnapshots(ctx context.Context, boardID string, limit int) ([]flow.DailySnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM (
		   SELECT `+snapshotColumns+` FROM daily_snapshots
		   WHERE board_id = $1 ORDER BY snapshot_date DESC LIMIT $2
		 ) recent ORDER BY snapshot_date ASC`,
		boardID, limit)
	if err != nil {
		return nil, storageErr(err, "list snapshots %s", boardID)
	}
	defer rows.Close()

	var snaps []flow.DailySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, storageErr(err, "scan snapshot")
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list snapshots %s", boardID)
	}
	return orEmpty(snaps), nil
}

func (s *Store) ListSnapshotDates(ctx context.Context, boardID string, from flow.Date) ([]flow.Date, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot_date FROM daily_snapshots WHERE board_id = $1 AND snapshot_date >= $2 ORDER BY snapshot_date`,
		boardID, from.Time())
	if err != nil {
		return nil, storageErr(err, "list snapshot dates %s", boardID)
	}
	defer rows.Close()

	var dates []flow.Date
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, storageErr(err, "scan snapshot date")
		}
		dates = append(dates, flow.DateFromTime(day))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list snapshot dates %s", boardID)
	}
	return dates, nil
}
