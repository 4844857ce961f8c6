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

// TagRepo provides database operations for tags.
type TagRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewTagRepo creates a TagRepo with the real clock.
func NewTagRepo(db *sql.DB) *TagRepo {
	return &TagRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const (
	tagColumns = `id, name, color, description, created_at, updated_at`

	tagGetByIDQuery = `
		SELECT ` + tagColumns + `
		FROM tags
		WHERE id = $1`

	tagGetByNameQuery = `
		SELECT ` + tagColumns + `
		FROM tags
		WHERE name = $1`

	tagInsertQuery = `
		INSERT INTO tags (name, color, description)
		VALUES ($1, $2, $3)
		RETURNING ` + tagColumns
)

// Create inserts a new tag.
func (r *TagRepo) Create(ctx context.Context, req *model.CreateTagRequest) (*model.Tag, error) {
	if req == nil {
		return nil, apperrors.Validation("create tag request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	return queryOne[model.Tag](ctx, r.DB, "tag", tagInsertQuery,
		strings.TrimSpace(req.Name), req.Color, req.Description)
}

// GetByID retrieves a tag by ID.
func (r *TagRepo) GetByID(ctx context.Context, id int64) (*model.Tag, error) {
	return queryOne[model.Tag](ctx, r.DB, "tag", tagGetByIDQuery, id)
}

// GetByName retrieves a tag by its unique name.
func (r *TagRepo) GetByName(ctx context.Context, name string) (*model.Tag, error) {
	return queryOne[model.Tag](ctx, r.DB, "tag", tagGetByNameQuery, name)
}

// List retrieves tags ordered by name.
func (r *TagRepo) List(ctx context.Context, opts model.TagsListOptions) ([]*model.Tag, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	queryOpts := []database.ListQueryOption{
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy("name", sortDirAsc),
	}
	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("name", database.ILike, "%"+strings.TrimSpace(*opts.Q)+"%"),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("tags", queryOpts...))
	return queryMany[model.Tag](ctx, r.DB, query, args...)
}

// Update applies a partial update and returns the stored row.
func (r *TagRepo) Update(ctx context.Context, id int64, req model.UpdateTagRequest) (*model.Tag, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setParts := make([]string, 0, 4)
	args := make([]any, 0, 4)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.Color != nil {
		setParts = append(setParts, fmt.Sprintf("color = $%d", nextIdx()))
		args = append(args, *req.Color)
	}
	if req.Description != nil {
		if strings.TrimSpace(*req.Description) == "" {
			setParts = append(setParts, "description = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("description = $%d", nextIdx()))
			args = append(args, *req.Description)
		}
	}
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())

	args = append(args, id)
	query := "UPDATE tags SET " + strings.Join(setParts, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + tagColumns
	return queryOne[model.Tag](ctx, r.DB, "tag", query, args...)
}

// Delete removes a tag; join rows to servers cascade away with it.
func (r *TagRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM tags WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("tag not found")
	}
	return nil
}

// EnsureByNames resolves tag names to ids, creating missing tags with the
// default color. Used when servers are created or retagged by name.
func (r *TagRepo) EnsureByNames(ctx context.Context, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		id, err := queryScalar[int64](ctx, r.DB, `
			INSERT INTO tags (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, trimmed)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
