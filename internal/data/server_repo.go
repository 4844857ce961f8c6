package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hullcrest/armada/internal/data/pgxutil"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// ServerRepo provides database operations for servers, including their tag
// bindings. Every select carries an aggregated tag_names column so callers
// never need a second query.
type ServerRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewServerRepo creates a ServerRepo with the real clock.
func NewServerRepo(db *sql.DB) *ServerRepo {
	return &ServerRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewServerRepoWithTimeProvider creates a ServerRepo with a custom clock (tests).
func NewServerRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ServerRepo {
	return &ServerRepo{DB: db, timeProvider: tp}
}

const (
	serverSelect = `
		SELECT s.id, s.name, s.is_local, s.hostname, s.port, s.username, s.credential_id,
		       s.enabled, s.os_type, s.os_distro, s.package_manager,
		       s.docker_available, s.systemd_available, s.last_seen_at, s.last_error,
		       COALESCE((
		           SELECT array_agg(t.name ORDER BY t.name)
		           FROM server_tags st
		           JOIN tags t ON t.id = st.tag_id
		           WHERE st.server_id = s.id
		       ), '{}') AS tag_names,
		       s.created_at, s.updated_at
		FROM servers s`

	serverGetByIDQuery   = serverSelect + ` WHERE s.id = $1`
	serverGetByNameQuery = serverSelect + ` WHERE s.name = $1`
)

// Create inserts a server and binds its tags in one transaction. Unknown tag
// names are created on the fly.
func (r *ServerRepo) Create(ctx context.Context, req *model.CreateServerRequest) (*model.Server, error) {
	if req == nil {
		return nil, apperrors.Validation("create server request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var id int64
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO servers (name, is_local, hostname, port, username, credential_id, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			strings.TrimSpace(req.Name), req.IsLocal, req.Hostname, *req.Port,
			req.Username, req.CredentialID, enabled,
		).Scan(&id); err != nil {
			return err
		}
		return replaceServerTags(ctx, tx, id, req.TagNames)
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return r.GetByID(ctx, id)
}

// GetByID retrieves a server by ID.
func (r *ServerRepo) GetByID(ctx context.Context, id int64) (*model.Server, error) {
	return queryOne[model.Server](ctx, r.DB, "server", serverGetByIDQuery, id)
}

// GetByName retrieves a server by its unique name.
func (r *ServerRepo) GetByName(ctx context.Context, name string) (*model.Server, error) {
	return queryOne[model.Server](ctx, r.DB, "server", serverGetByNameQuery, name)
}

// List retrieves servers filtered and sorted per opts.
func (r *ServerRepo) List(ctx context.Context, opts model.ServersListOptions) ([]*model.Server, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)
	sortCol, sortDir := validateSort(opts.Sort, opts.Dir, "name", "name", "created_at", "last_seen_at")

	whereClause, args := buildServerListWhere(opts)
	args = append(args, limit, offset)
	query := fmt.Sprintf("%s %s ORDER BY s.%s %s, s.id DESC LIMIT $%d OFFSET $%d",
		serverSelect, whereClause, sortCol, sortDir, len(args)-1, len(args))

	return queryMany[model.Server](ctx, r.DB, query, args...)
}

// buildServerListWhere builds the WHERE clause for List. The query joins a
// subselect for tags, so conditions are written by hand against alias s.
func buildServerListWhere(opts model.ServersListOptions) (string, []any) {
	var conditions []string
	var args []any
	nextIdx := func() int { return len(args) + 1 }

	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		idx := nextIdx()
		conditions = append(conditions, fmt.Sprintf("(s.name ILIKE $%d OR s.hostname ILIKE $%d)", idx, idx))
		args = append(args, "%"+strings.TrimSpace(*opts.Q)+"%")
	}
	if opts.Enabled != nil {
		conditions = append(conditions, fmt.Sprintf("s.enabled = $%d", nextIdx()))
		args = append(args, *opts.Enabled)
	}
	if opts.Tag != nil && strings.TrimSpace(*opts.Tag) != "" {
		conditions = append(conditions, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM server_tags st
			JOIN tags t ON t.id = st.tag_id
			WHERE st.server_id = s.id AND t.name = $%d
		)`, nextIdx()))
		args = append(args, strings.TrimSpace(*opts.Tag))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// Update applies a partial update, replacing the tag set when TagNames is
// non-nil (an empty slice clears all tags).
func (r *ServerRepo) Update(ctx context.Context, id int64, req model.UpdateServerRequest) (*model.Server, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		setClause, args := r.buildUpdateClause(req)
		if setClause != "" {
			args = append(args, id)
			ct, err := tx.Exec(ctx,
				"UPDATE servers SET "+setClause+" WHERE id = $"+strconv.Itoa(len(args)), args...)
			if err != nil {
				return err
			}
			if ct.RowsAffected() == 0 {
				return pgx.ErrNoRows
			}
		}
		if req.TagNames != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM server_tags WHERE server_id = $1`, id); err != nil {
				return err
			}
			return replaceServerTags(ctx, tx, id, req.TagNames)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("server not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return r.GetByID(ctx, id)
}

func (r *ServerRepo) buildUpdateClause(req model.UpdateServerRequest) (string, []any) {
	setParts := make([]string, 0, 7)
	args := make([]any, 0, 8)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.Hostname != nil {
		if strings.TrimSpace(*req.Hostname) == "" {
			setParts = append(setParts, "hostname = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("hostname = $%d", nextIdx()))
			args = append(args, *req.Hostname)
		}
	}
	if req.Port != nil {
		setParts = append(setParts, fmt.Sprintf("port = $%d", nextIdx()))
		args = append(args, *req.Port)
	}
	if req.Username != nil {
		if strings.TrimSpace(*req.Username) == "" {
			setParts = append(setParts, "username = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("username = $%d", nextIdx()))
			args = append(args, *req.Username)
		}
	}
	if req.CredentialID != nil {
		if *req.CredentialID == 0 {
			setParts = append(setParts, "credential_id = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("credential_id = $%d", nextIdx()))
			args = append(args, *req.CredentialID)
		}
	}
	if req.Enabled != nil {
		setParts = append(setParts, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *req.Enabled)
	}

	if len(setParts) == 0 {
		return "", nil
	}
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// Delete removes a server; capabilities, tag bindings, schedules and runs
// cascade away with it.
func (r *ServerRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("server not found")
	}
	return nil
}

// RecordSeen stamps a successful contact with the server and clears last_error.
func (r *ServerRepo) RecordSeen(ctx context.Context, id int64) error {
	now := r.timeProvider.Now().UTC()
	affected, err := execCommand(ctx, r.DB, `
		UPDATE servers SET last_seen_at = $1, last_error = NULL, updated_at = $1
		WHERE id = $2`, now, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("server not found")
	}
	return nil
}

// RecordError stamps a failed contact with the server.
func (r *ServerRepo) RecordError(ctx context.Context, id int64, message string) error {
	now := r.timeProvider.Now().UTC()
	affected, err := execCommand(ctx, r.DB, `
		UPDATE servers SET last_error = $1, updated_at = $2
		WHERE id = $3`, message, now, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("server not found")
	}
	return nil
}

// RecordDetectedFacts stores OS detection results alongside last_seen_at.
func (r *ServerRepo) RecordDetectedFacts(ctx context.Context, id int64, facts model.DetectedFacts) error {
	affected, err := execCommand(ctx, r.DB, `
		UPDATE servers
		SET os_type = $1, os_distro = $2, package_manager = $3,
		    docker_available = $4, systemd_available = $5,
		    last_seen_at = $6, last_error = NULL, updated_at = $7
		WHERE id = $8`,
		facts.OSType, facts.OSDistro, facts.PackageManager,
		facts.DockerAvailable, facts.SystemdAvailable,
		facts.SeenAt.UTC(), r.timeProvider.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("server not found")
	}
	return nil
}

// replaceServerTags inserts join rows for the given tag names, creating any
// missing tags. Callers clear existing rows first when replacing.
func replaceServerTags(ctx context.Context, tx pgx.Tx, serverID int64, tagNames []string) error {
	for _, name := range tagNames {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		var tagID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO tags (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, trimmed,
		).Scan(&tagID); err != nil {
			return fmt.Errorf("resolve tag %q: %w", trimmed, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO server_tags (server_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, serverID, tagID); err != nil {
			return fmt.Errorf("bind tag %q: %w", trimmed, err)
		}
	}
	return nil
}
