package data

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hullcrest/armada/internal/data/pgxutil"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// controlChannel is the pg_notify channel carrying daemon control messages.
// Payloads are "reload" or "cancel:<run_id>".
const controlChannel = "armada_control"

// ControlEventKind discriminates control messages.
type ControlEventKind string

const (
	ControlReload ControlEventKind = "reload"
	ControlCancel ControlEventKind = "cancel"
)

// ControlEvent is one decoded message from the control channel.
type ControlEvent struct {
	Kind  ControlEventKind
	RunID int64 // set for cancel events
}

// ControlRepo moves control messages between processes over LISTEN/NOTIFY, so
// an admin CLI can reach a running daemon with nothing but the database.
type ControlRepo struct {
	DB *sql.DB
}

// NewControlRepo creates a ControlRepo.
func NewControlRepo(db *sql.DB) *ControlRepo {
	return &ControlRepo{DB: db}
}

// NotifyReload asks listening daemons to reload schedules and settings.
func (r *ControlRepo) NotifyReload(ctx context.Context) error {
	_, err := execCommand(ctx, r.DB, `SELECT pg_notify($1, $2)`, controlChannel, "reload")
	return err
}

// NotifyCancel asks the daemon executing the run to cancel it.
func (r *ControlRepo) NotifyCancel(ctx context.Context, runID int64) error {
	if runID <= 0 {
		return apperrors.Validation("run id must be positive")
	}
	_, err := execCommand(ctx, r.DB, `SELECT pg_notify($1, $2)`,
		controlChannel, "cancel:"+strconv.FormatInt(runID, 10))
	return err
}

// Listen blocks on the control channel, invoking handler for each decoded
// event until ctx is done. Malformed payloads are dropped. The connection is
// pinned for the duration, so run this on its own goroutine.
func (r *ControlRepo) Listen(ctx context.Context, handler func(ControlEvent)) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LISTEN "+controlChannel); err != nil {
			return err
		}
		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				return err
			}
			if ev, ok := parseControlPayload(notification.Payload); ok {
				handler(ev)
			}
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return apperrors.MapDBError(err)
}

func parseControlPayload(payload string) (ControlEvent, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "reload" {
		return ControlEvent{Kind: ControlReload}, true
	}
	if rest, found := strings.CutPrefix(payload, "cancel:"); found {
		runID, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil || runID <= 0 {
			return ControlEvent{}, false
		}
		return ControlEvent{Kind: ControlCancel, RunID: runID}, true
	}
	return ControlEvent{}, false
}
