package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cleanease/api/internal/domain"
	pfirestore "github.com/cleanease/api/internal/platform/firestore"
	"github.com/cleanease/api/internal/repositories"
)

const userCollection = "users"

// UserRepository stores account profiles within Firestore, keyed by the
// identity provider's subject id.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// Upsert writes the profile document, preserving the original creation time
// when the profile already exists.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}

	createdAt := user.CreatedAt.UTC()
	if existing, err := r.base.Get(ctx, userID); err == nil && !existing.Data.CreatedAt.IsZero() {
		createdAt = existing.Data.CreatedAt
	}

	doc := userDocument{
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Phone:       user.Phone,
		Roles:       user.Roles,
		CreatedAt:   createdAt,
		UpdatedAt:   user.UpdatedAt.UTC(),
	}

	result, err := r.base.Set(ctx, userID, doc)
	if err != nil {
		return domain.User{}, err
	}

	saved := user
	saved.ID = userID
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID loads the profile by user id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	updatedAt := doc.Data.UpdatedAt
	if !doc.UpdateTime.IsZero() {
		updatedAt = doc.UpdateTime
	}
	return domain.User{
		ID:          doc.ID,
		Email:       doc.Data.Email,
		DisplayName: doc.Data.DisplayName,
		Phone:       doc.Data.Phone,
		Roles:       doc.Data.Roles,
		CreatedAt:   doc.Data.CreatedAt,
		UpdatedAt:   updatedAt,
	}, nil
}

type userDocument struct {
	Email       string    `firestore:"email,omitempty"`
	DisplayName string    `firestore:"displayName,omitempty"`
	Phone       string    `firestore:"phone,omitempty"`
	Roles       []string  `firestore:"roles,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

var _ repositories.UserRepository = (*UserRepository)(nil)
