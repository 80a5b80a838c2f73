package catalog

import (
	"context"
	"database/sql"
	"strings"
)

// PostgresStore reads the catalog from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const resourceColumns = `id, merchant_wallet, title, description, kind, trim_scale(price)::TEXT,
		network, token, active, auto_settle_minutes, content, created_at`

func (p *PostgresStore) GetResource(ctx context.Context, id string) (*Resource, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)

	var r Resource
	var description, content sql.NullString
	err := row.Scan(
		&r.ID, &r.MerchantWallet, &r.Title, &description, &r.Kind, &r.Price,
		&r.Network, &r.Token, &r.Active, &r.AutoSettleMins, &content, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Description = description.String
	r.Content = content.String
	return &r, nil
}

func (p *PostgresStore) GetMerchant(ctx context.Context, wallet string) (*Merchant, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT wallet, name, created_at FROM merchants WHERE wallet = $1`,
		strings.ToLower(wallet))

	var m Merchant
	var name sql.NullString
	err := row.Scan(&m.Wallet, &name, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMerchantNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Name = name.String
	return &m, nil
}

func (p *PostgresStore) ListResourcesByMerchant(ctx context.Context, wallet string, limit int) ([]*Resource, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources
		 WHERE merchant_wallet = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(wallet), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Resource
	for rows.Next() {
		var r Resource
		var description, content sql.NullString
		if err := rows.Scan(
			&r.ID, &r.MerchantWallet, &r.Title, &description, &r.Kind, &r.Price,
			&r.Network, &r.Token, &r.Active, &r.AutoSettleMins, &content, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Description = description.String
		r.Content = content.String
		result = append(result, &r)
	}
	return result, rows.Err()
}
