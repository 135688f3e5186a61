package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/crmdesk/internal/database"
	"github.com/hitoshi/crmdesk/internal/model"
)

// PostgresClientRepo はPostgreSQLを使用した顧客リポジトリ。
type PostgresClientRepo struct {
	db database.DBTX
}

// NewPostgresClientRepo はPostgresClientRepoを生成する。
func NewPostgresClientRepo(db database.DBTX) *PostgresClientRepo {
	return &PostgresClientRepo{db: db}
}

const clientColumns = `id, first_name, last_name, email, phone, company, status, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// List は全顧客をlast_name昇順で返す。
func (r *PostgresClientRepo) List(ctx context.Context) ([]*model.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY last_name ASC, first_name ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients := []*model.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}

	return clients, nil
}

// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresClientRepo) FindByID(ctx context.Context, id string) (*model.Client, error) {
	if !isValidID(id) {
		return nil, nil
	}
	c, err := scanClient(r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client by ID: %w", err)
	}
	return c, nil
}

// FindByEmail はemailの完全一致で顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresClientRepo) FindByEmail(ctx context.Context, email string) (*model.Client, error) {
	c, err := scanClient(r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client by email: %w", err)
	}
	return c, nil
}

// Create は顧客を作成する。emailが既に存在する場合はErrDuplicateEmailを返す。
func (r *PostgresClientRepo) Create(ctx context.Context, c *model.Client) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.FirstName, c.LastName, c.Email, nullString(c.Phone), nullString(c.Company),
		c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if isEmailUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	return nil
}

// Update は顧客の全項目を上書き更新する。
func (r *PostgresClientRepo) Update(ctx context.Context, c *model.Client) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE clients
		 SET first_name = $2, last_name = $3, email = $4, phone = $5, company = $6, status = $7, updated_at = $8
		 WHERE id = $1`,
		c.ID, c.FirstName, c.LastName, c.Email, nullString(c.Phone), nullString(c.Company), c.Status, c.UpdatedAt,
	)
	if isEmailUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete は指定IDの顧客を削除し、削除件数を返す。
func (r *PostgresClientRepo) Delete(ctx context.Context, id string) (int64, error) {
	if !isValidID(id) {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete client: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

func scanClient(row rowScanner) (*model.Client, error) {
	c := &model.Client{}
	var phone, company sql.NullString
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &phone, &company, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Phone = phone.String
	c.Company = company.String
	return c, nil
}

// compile-time interface check
var _ ClientRepository = (*PostgresClientRepo)(nil)
