package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ava-backend/internal/models"
)

const projectColumns = `id, name, description, status, prototype_url, intro_script,
	walkthrough_context, config, created_at, updated_at`

const sectionColumns = `id, project_id, title, goal, prompt, success_metrics, order_index, created_at`

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func scanProject(row pgx.Row) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Status, &p.PrototypeURL, &p.IntroScript,
		&p.WalkthroughContext, &p.Config, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns projects, most recently updated first. status "all" or ""
// disables the status filter; search matches the name case-insensitively.
func (r *ProjectRepo) List(ctx context.Context, status, search string) ([]*models.Project, error) {
	var (
		where []string
		args  []interface{}
	)
	argIdx := 1

	if status != "" && status != "all" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}
	if s := strings.TrimSpace(search); s != "" {
		where = append(where, fmt.Sprintf("name ILIKE $%d", argIdx))
		args = append(args, "%"+s+"%")
		argIdx++
	}

	query := "SELECT " + projectColumns + " FROM projects"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Create stores a project and its sections in one transaction.
func (r *ProjectRepo) Create(ctx context.Context, in models.ProjectInput) (*models.ProjectWithSections, error) {
	status := in.Status
	if status == "" {
		status = models.ProjectDraft
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO projects (id, name, description, status, prototype_url, intro_script, walkthrough_context, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + projectColumns

	project, err := scanProject(tx.QueryRow(ctx, query,
		uuid.New(), in.Name, in.Description, status, in.PrototypeURL, in.IntroScript,
		in.WalkthroughContext, string(jsonOrDefault(in.Config, "{}")),
	))
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	sections, err := insertSections(ctx, tx, project.ID, in.Sections)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &models.ProjectWithSections{Project: project, Sections: sections}, nil
}

func insertSections(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, inputs []models.SectionInput) ([]*models.Section, error) {
	sections := []*models.Section{}
	query := `INSERT INTO project_sections (id, project_id, title, goal, prompt, success_metrics, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sectionColumns

	for i, in := range inputs {
		order := i
		if in.OrderIndex != nil {
			order = *in.OrderIndex
		}
		s := &models.Section{}
		err := tx.QueryRow(ctx, query,
			uuid.New(), projectID, in.Title, in.Goal, in.Prompt,
			string(jsonOrDefault(in.SuccessMetrics, "{}")), order,
		).Scan(&s.ID, &s.ProjectID, &s.Title, &s.Goal, &s.Prompt, &s.SuccessMetrics, &s.OrderIndex, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert section %d: %w", i, err)
		}
		sections = append(sections, s)
	}
	sortSections(sections)
	return sections, nil
}

func sortSections(sections []*models.Section) {
	for i := 1; i < len(sections); i++ {
		for j := i; j > 0 && sections[j].OrderIndex < sections[j-1].OrderIndex; j-- {
			sections[j], sections[j-1] = sections[j-1], sections[j]
		}
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func listSections(ctx context.Context, q querier, projectID uuid.UUID) ([]*models.Section, error) {
	rows, err := q.Query(ctx,
		"SELECT "+sectionColumns+" FROM project_sections WHERE project_id = $1 ORDER BY order_index ASC, created_at ASC",
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sections := []*models.Section{}
	for rows.Next() {
		s := &models.Section{}
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Title, &s.Goal, &s.Prompt, &s.SuccessMetrics, &s.OrderIndex, &s.CreatedAt); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// Get returns a project with its sections ordered by order_index.
func (r *ProjectRepo) Get(ctx context.Context, id uuid.UUID) (*models.ProjectWithSections, error) {
	project, err := scanProject(r.pool.QueryRow(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = $1", id))
	if err != nil {
		return nil, mapNotFound(err)
	}
	sections, err := listSections(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	return &models.ProjectWithSections{Project: project, Sections: sections}, nil
}

// Update applies the provided fields. An empty name or status keeps the
// stored value. A nil Sections keeps the stored sections; otherwise they are
// replaced wholesale.
func (r *ProjectRepo) Update(ctx context.Context, id uuid.UUID, in models.ProjectInput) (*models.ProjectWithSections, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var config interface{}
	if len(in.Config) > 0 && string(in.Config) != "null" {
		config = string(in.Config)
	}

	query := `UPDATE projects SET
			name = COALESCE(NULLIF($2, ''), name),
			description = COALESCE($3, description),
			status = COALESCE(NULLIF($4, ''), status),
			prototype_url = COALESCE($5, prototype_url),
			intro_script = COALESCE($6, intro_script),
			walkthrough_context = COALESCE($7, walkthrough_context),
			config = COALESCE($8::jsonb, config),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + projectColumns

	project, err := scanProject(tx.QueryRow(ctx, query,
		id, in.Name, in.Description, in.Status, in.PrototypeURL, in.IntroScript, in.WalkthroughContext, config,
	))
	if err != nil {
		return nil, mapNotFound(err)
	}

	var sections []*models.Section
	if in.Sections != nil {
		if _, err := tx.Exec(ctx, "DELETE FROM project_sections WHERE project_id = $1", id); err != nil {
			return nil, err
		}
		sections, err = insertSections(ctx, tx, id, in.Sections)
	} else {
		sections, err = listSections(ctx, tx, id)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &models.ProjectWithSections{Project: project, Sections: sections}, nil
}

func (r *ProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM projects WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
