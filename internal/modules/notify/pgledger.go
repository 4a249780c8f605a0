// README: Postgres mirror of the credit ledger for reporting.
package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatchd/internal/model"
)

type PGLedger struct {
	db *pgxpool.Pool
}

func NewPGLedger(db *pgxpool.Pool) *PGLedger {
	return &PGLedger{db: db}
}

func (l *PGLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS credit_ledger (
            reservation_id TEXT PRIMARY KEY,
            driver_id      TEXT NOT NULL,
            fare           BIGINT NOT NULL,
            driver_share   BIGINT NOT NULL,
            platform_share BIGINT NOT NULL,
            source         TEXT NOT NULL,
            recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
        )`)
	return err
}

// Record inserts e once per reservation; replays are ignored.
func (l *PGLedger) Record(ctx context.Context, e model.LedgerEntry) error {
	_, err := l.db.Exec(ctx, `
        INSERT INTO credit_ledger (
            reservation_id, driver_id, fare, driver_share, platform_share, source
        ) VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (reservation_id) DO NOTHING`,
		string(e.ReservationID),
		string(e.DriverID),
		e.Fare,
		e.DriverShare,
		e.PlatformShare,
		e.Source,
	)
	return err
}

// DriverTotal sums the driver shares recorded for driverID.
func (l *PGLedger) DriverTotal(ctx context.Context, driverID string) (int64, error) {
	var total int64
	err := l.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(driver_share), 0) FROM credit_ledger WHERE driver_id = $1`,
		driverID,
	).Scan(&total)
	return total, err
}
