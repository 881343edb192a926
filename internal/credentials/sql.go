package credentials

import (
	"context"
	"strings"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/infra"
	"github.com/xprocessing/neoaigc/internal/sqlinline"
)

// SQLPersister shares the credential through Postgres, keyed by profile.
type SQLPersister struct {
	sql     infra.SQLExecutor
	profile string
}

func NewSQLPersister(sql infra.SQLExecutor, profile string) *SQLPersister {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = "default"
	}
	return &SQLPersister{sql: sql, profile: profile}
}

// EnsureSchema creates the credential table when it does not exist yet.
func (p *SQLPersister) EnsureSchema(ctx context.Context) error {
	_, err := p.sql.Exec(ctx, sqlinline.QCreateClientCredentialsTable)
	return err
}

func (p *SQLPersister) Load(ctx context.Context) (domain.Credential, error) {
	row := p.sql.QueryRow(ctx, sqlinline.QSelectClientCredential, p.profile)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return domain.Credential(strings.TrimSpace(token)), nil
}

func (p *SQLPersister) Save(ctx context.Context, token domain.Credential) error {
	_, err := p.sql.Exec(ctx, sqlinline.QUpsertClientCredential, p.profile, string(token))
	return err
}

func (p *SQLPersister) Delete(ctx context.Context) error {
	_, err := p.sql.Exec(ctx, sqlinline.QDeleteClientCredential, p.profile)
	return err
}
