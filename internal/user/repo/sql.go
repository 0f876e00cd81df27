package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
)

// dialect holds the statements that differ between postgres and sqlite.
type dialect struct {
	ddl []string
	// appendStatus is the SET expression appending one bind parameter to
	// the status JSON array.
	appendStatus string
}

var postgresDialect = dialect{
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS users (
  country TEXT NOT NULL,
  region TEXT NOT NULL,
  city TEXT NOT NULL,
  user_id UUID NOT NULL,
  user_name TEXT NOT NULL,
  display_name TEXT,
  email TEXT NOT NULL,
  password TEXT NOT NULL,
  status JSONB NOT NULL DEFAULT '[]'::jsonb,
  role TEXT NOT NULL,
  phone_number TEXT,
  language TEXT,
  address TEXT,
  post_code TEXT NOT NULL,
  owners JSONB,
  admins JSONB,
  organizations JSONB,
  active_organization UUID,
  other_emails JSONB,
  email_verify_code TEXT,
  email_verified_at TIMESTAMPTZ,
  password_recovery_code TEXT,
  password_recovered_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (country, region, city, user_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_users_user_id ON users(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_users_user_name ON users(user_name)`,
	},
	appendStatus: `status || jsonb_build_array(CAST(? AS TEXT))`,
}

var sqliteDialect = dialect{
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS users (
  country TEXT NOT NULL,
  region TEXT NOT NULL,
  city TEXT NOT NULL,
  user_id TEXT NOT NULL,
  user_name TEXT NOT NULL,
  display_name TEXT,
  email TEXT NOT NULL,
  password TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT '[]',
  role TEXT NOT NULL,
  phone_number TEXT,
  language TEXT,
  address TEXT,
  post_code TEXT NOT NULL,
  owners TEXT,
  admins TEXT,
  organizations TEXT,
  active_organization TEXT,
  other_emails TEXT,
  email_verify_code TEXT,
  email_verified_at DATETIME,
  password_recovery_code TEXT,
  password_recovered_at DATETIME,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  PRIMARY KEY (country, region, city, user_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_users_user_id ON users(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_users_user_name ON users(user_name)`,
	},
	appendStatus: `json_insert(status, '$[#]', ?)`,
}

const userColumns = `country, region, city, user_id, user_name, display_name, email, password,
	status, role, phone_number, language, address, post_code, owners, admins, organizations,
	active_organization, other_emails, email_verify_code, email_verified_at,
	password_recovery_code, password_recovered_at, created_at, updated_at`

const upsertUser = `INSERT INTO users (` + userColumns + `)
VALUES (:country, :region, :city, :user_id, :user_name, :display_name, :email, :password,
	:status, :role, :phone_number, :language, :address, :post_code, :owners, :admins, :organizations,
	:active_organization, :other_emails, :email_verify_code, :email_verified_at,
	:password_recovery_code, :password_recovered_at, :created_at, :updated_at)
ON CONFLICT (country, region, city, user_id) DO UPDATE SET
	user_name = excluded.user_name,
	display_name = excluded.display_name,
	email = excluded.email,
	password = excluded.password,
	status = excluded.status,
	role = excluded.role,
	phone_number = excluded.phone_number,
	language = excluded.language,
	address = excluded.address,
	post_code = excluded.post_code,
	owners = excluded.owners,
	admins = excluded.admins,
	organizations = excluded.organizations,
	active_organization = excluded.active_organization,
	other_emails = excluded.other_emails,
	email_verify_code = excluded.email_verify_code,
	email_verified_at = excluded.email_verified_at,
	password_recovery_code = excluded.password_recovery_code,
	password_recovered_at = excluded.password_recovered_at,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at`

const updateUser = `UPDATE users SET
	user_name = :user_name,
	display_name = :display_name,
	email = :email,
	password = :password,
	role = :role,
	phone_number = :phone_number,
	language = :language,
	address = :address,
	post_code = :post_code,
	owners = :owners,
	admins = :admins,
	organizations = :organizations,
	active_organization = :active_organization,
	other_emails = :other_emails,
	email_verify_code = :email_verify_code,
	email_verified_at = :email_verified_at,
	password_recovery_code = :password_recovery_code,
	password_recovered_at = :password_recovered_at,
	updated_at = :updated_at
WHERE country = :country AND region = :region AND city = :city AND user_id = :user_id`

// jsonList stores a slice in a JSON column (JSONB on postgres, TEXT on sqlite).
type jsonList[T any] []T

func (l jsonList[T]) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]T(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *jsonList[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("jsonList: unsupported source %T", src)
	}
}

// userRow maps one users row for sqlx.
type userRow struct {
	Country              string              `db:"country"`
	Region               string              `db:"region"`
	City                 string              `db:"city"`
	UserID               uuid.UUID           `db:"user_id"`
	UserName             string              `db:"user_name"`
	DisplayName          *string             `db:"display_name"`
	Email                string              `db:"email"`
	Password             string              `db:"password"`
	Status               jsonList[string]    `db:"status"`
	Role                 string              `db:"role"`
	PhoneNumber          *string             `db:"phone_number"`
	Language             *string             `db:"language"`
	Address              *string             `db:"address"`
	PostCode             string              `db:"post_code"`
	Owners               jsonList[uuid.UUID] `db:"owners"`
	Admins               jsonList[uuid.UUID] `db:"admins"`
	Organizations        jsonList[uuid.UUID] `db:"organizations"`
	ActiveOrganization   *uuid.UUID          `db:"active_organization"`
	OtherEmails          jsonList[string]    `db:"other_emails"`
	EmailVerifyCode      *string             `db:"email_verify_code"`
	EmailVerifiedAt      *time.Time          `db:"email_verified_at"`
	PasswordRecoveryCode *string             `db:"password_recovery_code"`
	PasswordRecoveredAt  *time.Time          `db:"password_recovered_at"`
	CreatedAt            time.Time           `db:"created_at"`
	UpdatedAt            time.Time           `db:"updated_at"`
}

func newUserRow(u *entity.User) *userRow {
	return &userRow{
		Country:              u.Country,
		Region:               u.Region,
		City:                 u.City,
		UserID:               u.UserID,
		UserName:             u.UserName,
		DisplayName:          u.DisplayName,
		Email:                u.Email,
		Password:             u.Password,
		Status:               jsonList[string](u.Status),
		Role:                 string(u.Role),
		PhoneNumber:          u.PhoneNumber,
		Language:             u.Language,
		Address:              u.Address,
		PostCode:             u.PostCode,
		Owners:               u.Owners,
		Admins:               u.Admins,
		Organizations:        u.Organizations,
		ActiveOrganization:   u.ActiveOrganization,
		OtherEmails:          u.OtherEmails,
		EmailVerifyCode:      u.EmailVerifyCode,
		EmailVerifiedAt:      utcPtr(u.EmailVerifiedAt),
		PasswordRecoveryCode: u.PasswordRecoveryCode,
		PasswordRecoveredAt:  utcPtr(u.PasswordRecoveredAt),
		CreatedAt:            u.CreatedAt.UTC(),
		UpdatedAt:            u.UpdatedAt.UTC(),
	}
}

func (row *userRow) toEntity() *entity.User {
	return &entity.User{
		UserID:               row.UserID,
		UserName:             row.UserName,
		DisplayName:          row.DisplayName,
		Email:                row.Email,
		Password:             row.Password,
		Status:               []string(row.Status),
		Role:                 entity.Role(row.Role),
		PhoneNumber:          row.PhoneNumber,
		Language:             row.Language,
		Address:              row.Address,
		Country:              row.Country,
		Region:               row.Region,
		City:                 row.City,
		PostCode:             row.PostCode,
		Owners:               row.Owners,
		Admins:               row.Admins,
		Organizations:        row.Organizations,
		ActiveOrganization:   row.ActiveOrganization,
		OtherEmails:          row.OtherEmails,
		EmailVerifyCode:      row.EmailVerifyCode,
		EmailVerifiedAt:      utcPtr(row.EmailVerifiedAt),
		PasswordRecoveryCode: row.PasswordRecoveryCode,
		PasswordRecoveredAt:  utcPtr(row.PasswordRecoveredAt),
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// SQLRepo stores users in postgres (lib/pq or pgx) or sqlite through sqlx.
type SQLRepo struct {
	db      *sqlx.DB
	dialect dialect
	caller
}

func NewSQLRepo(db *sqlx.DB, gate *database.Gate, logger *zap.SugaredLogger) (*SQLRepo, error) {
	r := &SQLRepo{db: db, caller: newCaller(gate, logger)}
	switch db.DriverName() {
	case database.DriverPostgres, database.DriverPgx:
		r.dialect = postgresDialect
	case database.DriverSQLite:
		r.dialect = sqliteDialect
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", db.DriverName())
	}
	return r, nil
}

// Migrate creates the users table and its indexes if they do not exist.
func (r *SQLRepo) Migrate(ctx context.Context) error {
	return r.do(ctx, "migrate", func(ctx context.Context) error {
		for _, stmt := range r.dialect.ddl {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLRepo) Create(ctx context.Context, u *entity.User) error {
	return r.do(ctx, "create", func(ctx context.Context) error {
		_, err := r.db.NamedExecContext(ctx, upsertUser, newUserRow(u))
		return err
	})
}

func (r *SQLRepo) FindByID(ctx context.Context, key entity.Key) (*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users
	WHERE country = ? AND region = ? AND city = ? AND user_id = ?`)
	return r.get(ctx, "find by id", q, key.Country, key.Region, key.City, key.UserID)
}

func (r *SQLRepo) FindByNameOrEmail(ctx context.Context, c entity.Criteria) (*entity.User, error) {
	if c.ByEmail() {
		q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ? LIMIT 1`)
		return r.get(ctx, "find by email", q, c.Email)
	}
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE user_name = ? LIMIT 1`)
	return r.get(ctx, "find by user_name", q, c.UserName)
}

func (r *SQLRepo) get(ctx context.Context, op, q string, args ...any) (*entity.User, error) {
	var row userRow
	err := r.do(ctx, op, func(ctx context.Context) error {
		err := r.db.GetContext(ctx, &row, q, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.UserNotFound()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *SQLRepo) FindAllInPartition(ctx context.Context, p entity.PartitionKey) ([]*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users
	WHERE country = ? AND region = ? AND city = ?
	ORDER BY user_id DESC`)
	var rows []userRow
	err := r.do(ctx, "find all in partition", func(ctx context.Context) error {
		return r.db.SelectContext(ctx, &rows, q, p.Country, p.Region, p.City)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*entity.User, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

func (r *SQLRepo) Update(ctx context.Context, u *entity.User) error {
	return r.do(ctx, "update", func(ctx context.Context) error {
		res, err := r.db.NamedExecContext(ctx, updateUser, newUserRow(u))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.UserNotFound()
		}
		return nil
	})
}

func (r *SQLRepo) PushStatus(ctx context.Context, key entity.Key, token string) (bool, error) {
	q := r.db.Rebind(`UPDATE users SET status = ` + r.dialect.appendStatus + `
	WHERE country = ? AND region = ? AND city = ? AND user_id = ?`)
	var applied bool
	err := r.do(ctx, "push status", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, q, token, key.Country, key.Region, key.City, key.UserID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n == 1
		return nil
	})
	return applied, err
}
