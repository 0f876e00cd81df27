package repo

import (
	"bytes"
	"context"
	"slices"

	"github.com/hashicorp/go-memdb"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
)

const (
	indexID        = "id"
	indexPartition = "partition"
	indexEmail     = "email"
	indexUserName  = "user_name"
)

func memorySchema() *memdb.DBSchema {
	partition := []memdb.Indexer{
		&memdb.StringFieldIndex{Field: "Country"},
		&memdb.StringFieldIndex{Field: "Region"},
		&memdb.StringFieldIndex{Field: "City"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			usersTable: {
				Name: usersTable,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: append(slices.Clone(partition), &memdb.StringFieldIndex{Field: "UserID"}),
						},
					},
					indexPartition: {
						Name:    indexPartition,
						Indexer: &memdb.CompoundIndex{Indexes: partition},
					},
					indexEmail: {
						Name:    indexEmail,
						Indexer: &memdb.StringFieldIndex{Field: "Email"},
					},
					indexUserName: {
						Name:    indexUserName,
						Indexer: &memdb.StringFieldIndex{Field: "UserName"},
					},
				},
			},
		},
	}
}

// userRecord is the memdb row. Indexed fields are flattened to strings.
type userRecord struct {
	Country  string
	Region   string
	City     string
	UserID   string
	Email    string
	UserName string
	User     *entity.User
}

func newUserRecord(u *entity.User) *userRecord {
	return &userRecord{
		Country:  u.Country,
		Region:   u.Region,
		City:     u.City,
		UserID:   u.UserID.String(),
		Email:    u.Email,
		UserName: u.UserName,
		User:     u.Clone(),
	}
}

// MemoryRepo keeps users in a go-memdb database. It backs tests and
// single-process deployments that do not need durability.
type MemoryRepo struct {
	db *memdb.MemDB
	caller
}

func NewMemoryRepo(gate *database.Gate, logger *zap.SugaredLogger) (*MemoryRepo, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, err
	}
	return &MemoryRepo{db: db, caller: newCaller(gate, logger)}, nil
}

// Migrate is a no-op; the schema is built with the repository.
func (r *MemoryRepo) Migrate(context.Context) error { return nil }

func (r *MemoryRepo) Create(ctx context.Context, u *entity.User) error {
	return r.do(ctx, "create", func(context.Context) error {
		txn := r.db.Txn(true)
		defer txn.Abort()
		if err := txn.Insert(usersTable, newUserRecord(u)); err != nil {
			return err
		}
		txn.Commit()
		return nil
	})
}

func (r *MemoryRepo) FindByID(ctx context.Context, key entity.Key) (*entity.User, error) {
	var out *entity.User
	err := r.do(ctx, "find by id", func(context.Context) error {
		txn := r.db.Txn(false)
		rec, err := first(txn, indexID, key.Country, key.Region, key.City, key.UserID.String())
		if err != nil {
			return err
		}
		out = rec.User.Clone()
		return nil
	})
	return out, err
}

func (r *MemoryRepo) FindByNameOrEmail(ctx context.Context, c entity.Criteria) (*entity.User, error) {
	index, value := indexUserName, c.UserName
	if c.ByEmail() {
		index, value = indexEmail, c.Email
	}
	var out *entity.User
	err := r.do(ctx, "find by "+index, func(context.Context) error {
		txn := r.db.Txn(false)
		rec, err := first(txn, index, value)
		if err != nil {
			return err
		}
		out = rec.User.Clone()
		return nil
	})
	return out, err
}

func (r *MemoryRepo) FindAllInPartition(ctx context.Context, p entity.PartitionKey) ([]*entity.User, error) {
	var out []*entity.User
	err := r.do(ctx, "find all in partition", func(context.Context) error {
		txn := r.db.Txn(false)
		it, err := txn.Get(usersTable, indexPartition, p.Country, p.Region, p.City)
		if err != nil {
			return err
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			out = append(out, raw.(*userRecord).User.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *entity.User) int {
		return bytes.Compare(b.UserID[:], a.UserID[:])
	})
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, u *entity.User) error {
	return r.do(ctx, "update", func(context.Context) error {
		txn := r.db.Txn(true)
		defer txn.Abort()
		rec, err := first(txn, indexID, u.Country, u.Region, u.City, u.UserID.String())
		if err != nil {
			return err
		}
		next := newUserRecord(u)
		next.User.Status = slices.Clone(rec.User.Status)
		if err := txn.Insert(usersTable, next); err != nil {
			return err
		}
		txn.Commit()
		return nil
	})
}

func (r *MemoryRepo) PushStatus(ctx context.Context, key entity.Key, token string) (bool, error) {
	applied := false
	err := r.do(ctx, "push status", func(context.Context) error {
		txn := r.db.Txn(true)
		defer txn.Abort()
		rec, err := first(txn, indexID, key.Country, key.Region, key.City, key.UserID.String())
		if apperr.CodeOf(err) == apperr.CodeUserNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		next := newUserRecord(rec.User)
		next.User.Status = append(next.User.Status, token)
		if err := txn.Insert(usersTable, next); err != nil {
			return err
		}
		txn.Commit()
		applied = true
		return nil
	})
	return applied, err
}

func first(txn *memdb.Txn, index string, args ...interface{}) (*userRecord, error) {
	raw, err := txn.First(usersTable, index, args...)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, apperr.UserNotFound()
	}
	return raw.(*userRecord), nil
}
