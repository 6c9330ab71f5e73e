package repositories

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"helpdesk/domain"
	herrors "helpdesk/errors"
)

const userPrefix = "user:"

// UserRepository stores account records consulted by the identity verifier.
type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

type storedUser struct {
	ID          string    `cbor:"id"`
	DisplayName string    `cbor:"display_name"`
	Role        string    `cbor:"role"`
	Active      bool      `cbor:"active"`
	Blocked     bool      `cbor:"blocked"`
	CreatedAt   time.Time `cbor:"created_at"`
}

func (r *UserRepository) Create(user domain.User) error {
	data, err := cbor.Marshal(storedUser{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		Active:      user.Active,
		Blocked:     user.Blocked,
		CreatedAt:   user.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + user.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("user %s already exists", user.ID)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}
	return nil
}

func (r *UserRepository) Get(id string) (domain.User, error) {
	var rec storedUser
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, fmt.Errorf("%w: %s", herrors.ErrUserNotFound, id)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}
	return domain.User{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Role:        domain.Role(rec.Role),
		Active:      rec.Active,
		Blocked:     rec.Blocked,
		CreatedAt:   rec.CreatedAt,
	}, nil
}
