// Package history records the append-only audit trail of a manifestation.
// Entries are written inside the caller's transaction so a case mutation and
// its trail succeed or fail together; no entry is ever updated or deleted on
// its own.
package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrOrphanReference is returned when an entry targets a manifestation that
// does not exist. It indicates a broken invariant in the caller, never a
// condition to swallow.
var ErrOrphanReference = errors.New("history entry references missing manifestation")

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one trail entry and returns its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, manifestationID int64, event, actor string) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `INSERT INTO history(manifestation_id,event,actor,ts) VALUES (?,?,?,?)`,
		manifestationID, event, actor, ts)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return 0, ErrOrphanReference
		}
		return 0, err
	}
	return res.LastInsertId()
}
