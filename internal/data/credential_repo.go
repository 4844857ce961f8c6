package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/hullcrest/armada/internal/data/database"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// CredentialRepo provides database operations for credentials.
type CredentialRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCredentialRepo creates a CredentialRepo with the real clock.
func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewCredentialRepoWithTimeProvider creates a CredentialRepo with a custom clock (tests).
func NewCredentialRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *CredentialRepo {
	return &CredentialRepo{DB: db, timeProvider: tp}
}

const (
	credentialColumns = `id, name, kind, value, username, metadata, created_at, updated_at`

	credentialGetByIDQuery = `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE id = $1`

	credentialGetByNameQuery = `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE name = $1`

	credentialInsertQuery = `
		INSERT INTO credentials (name, kind, value, username, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + credentialColumns
)

// Create inserts a new credential.
func (r *CredentialRepo) Create(ctx context.Context, req *model.CreateCredentialRequest) (*model.Credential, error) {
	if req == nil {
		return nil, apperrors.Validation("create credential request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return queryOne[model.Credential](ctx, r.DB, "credential", credentialInsertQuery,
		strings.TrimSpace(req.Name), req.Kind, req.Value, req.Username, metadata)
}

// GetByID retrieves a credential by ID.
func (r *CredentialRepo) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	return queryOne[model.Credential](ctx, r.DB, "credential", credentialGetByIDQuery, id)
}

// GetByName retrieves a credential by its unique name.
func (r *CredentialRepo) GetByName(ctx context.Context, name string) (*model.Credential, error) {
	return queryOne[model.Credential](ctx, r.DB, "credential", credentialGetByNameQuery, name)
}

// List retrieves credentials filtered and sorted per opts.
func (r *CredentialRepo) List(ctx context.Context, opts model.CredentialsListOptions) ([]*model.Credential, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)
	sortCol, sortDir := validateSort(opts.Sort, opts.Dir, "name", "name", "kind", "created_at")

	queryOpts := []database.ListQueryOption{
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy(sortCol, sortDir),
		database.WithTieBreak("id"),
	}
	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("name", database.ILike, "%"+strings.TrimSpace(*opts.Q)+"%"),
		))
	}
	if opts.Kind != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("kind", database.Equal, *opts.Kind),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("credentials", queryOpts...))
	return queryMany[model.Credential](ctx, r.DB, query, args...)
}

// Update applies a partial update and returns the stored row.
func (r *CredentialRepo) Update(ctx context.Context, id int64, req model.UpdateCredentialRequest) (*model.Credential, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setClause, args := r.buildUpdateClause(req)
	args = append(args, id)
	query := "UPDATE credentials SET " + setClause +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + credentialColumns
	return queryOne[model.Credential](ctx, r.DB, "credential", query, args...)
}

func (r *CredentialRepo) buildUpdateClause(req model.UpdateCredentialRequest) (string, []any) {
	setParts := make([]string, 0, 6)
	args := make([]any, 0, 6)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.Kind != nil {
		setParts = append(setParts, fmt.Sprintf("kind = $%d", nextIdx()))
		args = append(args, *req.Kind)
	}
	if req.Value != nil {
		setParts = append(setParts, fmt.Sprintf("value = $%d", nextIdx()))
		args = append(args, *req.Value)
	}
	if req.Username != nil {
		if strings.TrimSpace(*req.Username) == "" {
			setParts = append(setParts, "username = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("username = $%d", nextIdx()))
			args = append(args, *req.Username)
		}
	}
	if req.Metadata != nil {
		setParts = append(setParts, fmt.Sprintf("metadata = $%d", nextIdx()))
		args = append(args, req.Metadata)
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// Delete removes a credential. Fails with InUse while a server references it.
func (r *CredentialRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("credential not found")
	}
	return nil
}
