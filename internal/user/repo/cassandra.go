package repo

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

const cassandraColumns = `country, region, city, user_id, user_name, display_name, email, password,
	status, role, phone_number, language, address, post_code, owners, admins, organizations,
	active_organization, other_emails, email_verify_code, email_verified_at,
	password_recovery_code, password_recovered_at, created_at, updated_at`

// CassandraRepo stores users in one partitioned table:
// PRIMARY KEY ((country, region, city), user_id), newest user_id first.
type CassandraRepo struct {
	session           *gocql.Session
	keyspace          string
	replicationFactor int
	pageSize          int
	caller
}

func NewCassandraRepo(session *gocql.Session, cfg database.Config, gate *database.Gate, logger *zap.SugaredLogger) (*CassandraRepo, error) {
	if !keyspacePattern.MatchString(cfg.CassandraKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name %q", cfg.CassandraKeyspace)
	}
	rf := cfg.CassandraReplicationFactor
	if rf < 1 {
		rf = 1
	}
	return &CassandraRepo{
		session:           session,
		keyspace:          cfg.CassandraKeyspace,
		replicationFactor: rf,
		pageSize:          cfg.PageSize,
		caller:            newCaller(gate, logger),
	}, nil
}

// table qualifies the users table with the keyspace; the session is not
// bound to one.
func (r *CassandraRepo) table() string { return r.keyspace + "." + usersTable }

// Migrate creates the keyspace, the users table and its secondary indexes.
// Every statement is IF NOT EXISTS, so running it again is harmless.
func (r *CassandraRepo) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
			r.keyspace, r.replicationFactor),
		`CREATE TABLE IF NOT EXISTS ` + r.table() + ` (
  country text,
  region text,
  city text,
  user_id uuid,
  user_name text,
  display_name text,
  email text,
  password text,
  status list<text>,
  role text,
  phone_number text,
  language text,
  address text,
  post_code text,
  owners list<uuid>,
  admins list<uuid>,
  organizations list<uuid>,
  active_organization uuid,
  other_emails list<text>,
  email_verify_code text,
  email_verified_at timestamp,
  password_recovery_code text,
  password_recovered_at timestamp,
  created_at timestamp,
  updated_at timestamp,
  PRIMARY KEY ((country, region, city), user_id)
) WITH CLUSTERING ORDER BY (user_id DESC)`,
		`CREATE INDEX IF NOT EXISTS users_user_id_idx ON ` + r.table() + ` (user_id)`,
		`CREATE INDEX IF NOT EXISTS users_email_idx ON ` + r.table() + ` (email)`,
		`CREATE INDEX IF NOT EXISTS users_user_name_idx ON ` + r.table() + ` (user_name)`,
	}
	return r.do(ctx, "migrate", func(ctx context.Context) error {
		for _, stmt := range stmts {
			if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

// cassandraRow holds one row in gocql scan/bind types.
type cassandraRow struct {
	country, region, city string
	userID                gocql.UUID
	userName              string
	displayName           *string
	email                 string
	password              string
	status                []string
	role                  string
	phoneNumber           *string
	language              *string
	address               *string
	postCode              string
	owners                []gocql.UUID
	admins                []gocql.UUID
	organizations         []gocql.UUID
	activeOrganization    *gocql.UUID
	otherEmails           []string
	emailVerifyCode       *string
	emailVerifiedAt       *time.Time
	passwordRecoveryCode  *string
	passwordRecoveredAt   *time.Time
	createdAt             time.Time
	updatedAt             time.Time
}

func (row *cassandraRow) dest() []interface{} {
	return []interface{}{
		&row.country, &row.region, &row.city, &row.userID, &row.userName, &row.displayName,
		&row.email, &row.password, &row.status, &row.role, &row.phoneNumber, &row.language,
		&row.address, &row.postCode, &row.owners, &row.admins, &row.organizations,
		&row.activeOrganization, &row.otherEmails, &row.emailVerifyCode, &row.emailVerifiedAt,
		&row.passwordRecoveryCode, &row.passwordRecoveredAt, &row.createdAt, &row.updatedAt,
	}
}

func (row *cassandraRow) toEntity() *entity.User {
	u := &entity.User{
		UserID:               uuid.UUID(row.userID),
		UserName:             row.userName,
		DisplayName:          row.displayName,
		Email:                row.email,
		Password:             row.password,
		Status:               row.status,
		Role:                 entity.Role(row.role),
		PhoneNumber:          row.phoneNumber,
		Language:             row.language,
		Address:              row.address,
		Country:              row.country,
		Region:               row.region,
		City:                 row.city,
		PostCode:             row.postCode,
		Owners:               fromGocqlUUIDs(row.owners),
		Admins:               fromGocqlUUIDs(row.admins),
		Organizations:        fromGocqlUUIDs(row.organizations),
		OtherEmails:          row.otherEmails,
		EmailVerifyCode:      row.emailVerifyCode,
		EmailVerifiedAt:      utcPtr(row.emailVerifiedAt),
		PasswordRecoveryCode: row.passwordRecoveryCode,
		PasswordRecoveredAt:  utcPtr(row.passwordRecoveredAt),
		CreatedAt:            row.createdAt.UTC(),
		UpdatedAt:            row.updatedAt.UTC(),
	}
	if row.activeOrganization != nil {
		id := uuid.UUID(*row.activeOrganization)
		u.ActiveOrganization = &id
	}
	return u
}

func toGocqlUUIDs(ids []uuid.UUID) []gocql.UUID {
	if ids == nil {
		return nil
	}
	out := make([]gocql.UUID, len(ids))
	for i, id := range ids {
		out[i] = gocql.UUID(id)
	}
	return out
}

func fromGocqlUUIDs(ids []gocql.UUID) []uuid.UUID {
	if ids == nil {
		return nil
	}
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[i] = uuid.UUID(id)
	}
	return out
}

func activeOrganization(u *entity.User) *gocql.UUID {
	if u.ActiveOrganization == nil {
		return nil
	}
	id := gocql.UUID(*u.ActiveOrganization)
	return &id
}

func (r *CassandraRepo) Create(ctx context.Context, u *entity.User) error {
	q := `INSERT INTO ` + r.table() + ` (` + cassandraColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return r.do(ctx, "create", func(ctx context.Context) error {
		return r.session.Query(q,
			u.Country, u.Region, u.City, gocql.UUID(u.UserID), u.UserName, u.DisplayName,
			u.Email, u.Password, u.Status, string(u.Role), u.PhoneNumber, u.Language,
			u.Address, u.PostCode, toGocqlUUIDs(u.Owners), toGocqlUUIDs(u.Admins),
			toGocqlUUIDs(u.Organizations), activeOrganization(u), u.OtherEmails,
			u.EmailVerifyCode, u.EmailVerifiedAt, u.PasswordRecoveryCode, u.PasswordRecoveredAt,
			u.CreatedAt, u.UpdatedAt,
		).WithContext(ctx).Exec()
	})
}

func (r *CassandraRepo) FindByID(ctx context.Context, key entity.Key) (*entity.User, error) {
	q := `SELECT ` + cassandraColumns + ` FROM ` + r.table() + `
	WHERE country = ? AND region = ? AND city = ? AND user_id = ?`
	return r.get(ctx, "find by id", q, key.Country, key.Region, key.City, gocql.UUID(key.UserID))
}

func (r *CassandraRepo) FindByNameOrEmail(ctx context.Context, c entity.Criteria) (*entity.User, error) {
	if c.ByEmail() {
		q := `SELECT ` + cassandraColumns + ` FROM ` + r.table() + ` WHERE email = ? LIMIT 1`
		return r.get(ctx, "find by email", q, c.Email)
	}
	q := `SELECT ` + cassandraColumns + ` FROM ` + r.table() + ` WHERE user_name = ? LIMIT 1`
	return r.get(ctx, "find by user_name", q, c.UserName)
}

func (r *CassandraRepo) get(ctx context.Context, op, q string, args ...interface{}) (*entity.User, error) {
	var row cassandraRow
	err := r.do(ctx, op, func(ctx context.Context) error {
		err := r.session.Query(q, args...).WithContext(ctx).Scan(row.dest()...)
		if err == gocql.ErrNotFound {
			return apperr.UserNotFound()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// FindAllInPartition pages through the whole partition; rows arrive in
// clustering order so no sort is needed.
func (r *CassandraRepo) FindAllInPartition(ctx context.Context, p entity.PartitionKey) ([]*entity.User, error) {
	q := `SELECT ` + cassandraColumns + ` FROM ` + r.table() + `
	WHERE country = ? AND region = ? AND city = ?`
	var out []*entity.User
	err := r.do(ctx, "find all in partition", func(ctx context.Context) error {
		scanner := r.session.Query(q, p.Country, p.Region, p.City).
			WithContext(ctx).
			PageSize(r.pageSize).
			Iter().
			Scanner()
		for scanner.Next() {
			var row cassandraRow
			if err := scanner.Scan(row.dest()...); err != nil {
				return err
			}
			out = append(out, row.toEntity())
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update overwrites the mutable columns of an existing row. The status
// list is left alone.
func (r *CassandraRepo) Update(ctx context.Context, u *entity.User) error {
	sets := []string{
		"user_name = ?", "display_name = ?", "email = ?", "password = ?", "role = ?",
		"phone_number = ?", "language = ?", "address = ?", "post_code = ?", "owners = ?",
		"admins = ?", "organizations = ?", "active_organization = ?", "other_emails = ?",
		"email_verify_code = ?", "email_verified_at = ?", "password_recovery_code = ?",
		"password_recovered_at = ?", "updated_at = ?",
	}
	q := `UPDATE ` + r.table() + ` SET ` + strings.Join(sets, ", ") + `
	WHERE country = ? AND region = ? AND city = ? AND user_id = ? IF EXISTS`
	return r.do(ctx, "update", func(ctx context.Context) error {
		applied, err := r.session.Query(q,
			u.UserName, u.DisplayName, u.Email, u.Password, string(u.Role),
			u.PhoneNumber, u.Language, u.Address, u.PostCode, toGocqlUUIDs(u.Owners),
			toGocqlUUIDs(u.Admins), toGocqlUUIDs(u.Organizations), activeOrganization(u), u.OtherEmails,
			u.EmailVerifyCode, u.EmailVerifiedAt, u.PasswordRecoveryCode,
			u.PasswordRecoveredAt, u.UpdatedAt,
			u.Country, u.Region, u.City, gocql.UUID(u.UserID),
		).WithContext(ctx).ScanCAS()
		if err != nil {
			return err
		}
		if !applied {
			return apperr.UserNotFound()
		}
		return nil
	})
}

// PushStatus appends token with a lightweight transaction so a missing
// row is never created by the append.
func (r *CassandraRepo) PushStatus(ctx context.Context, key entity.Key, token string) (bool, error) {
	q := `UPDATE ` + r.table() + ` SET status = status + ?
	WHERE country = ? AND region = ? AND city = ? AND user_id = ? IF EXISTS`
	var applied bool
	err := r.do(ctx, "push status", func(ctx context.Context) error {
		var err error
		applied, err = r.session.Query(q,
			[]string{token}, key.Country, key.Region, key.City, gocql.UUID(key.UserID),
		).WithContext(ctx).ScanCAS()
		return err
	})
	return applied, err
}
