package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tenderdesk/procurement-backend/internal/approvals"
)

var ErrUserNotFound = errors.New("user not found")

type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListHolders(ctx context.Context, role approvals.ApproverRole) ([]User, error)
	AssignRole(ctx context.Context, userID uuid.UUID, role approvals.ApproverRole) error
	RevokeRole(ctx context.Context, userID uuid.UUID, role approvals.ApproverRole) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *gormRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Preload("Roles").First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return &user, err
}

func (r *gormRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Preload("Roles").First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return &user, err
}

// ListHolders returns active holders of a role ordered by employee number
// then id. The ordering is the contract the Resolver's "first holder"
// rule depends on.
func (r *gormRepository) ListHolders(ctx context.Context, role approvals.ApproverRole) ([]User, error) {
	var users []User
	err := r.db.WithContext(ctx).
		Joins("JOIN role_assignments ON role_assignments.user_id = users.id").
		Where("role_assignments.role = ? AND users.is_active = true", role).
		Order("users.employee_number, users.id").
		Find(&users).Error
	return users, err
}

func (r *gormRepository) AssignRole(ctx context.Context, userID uuid.UUID, role approvals.ApproverRole) error {
	assignment := RoleAssignment{
		ID:         uuid.New(),
		UserID:     userID,
		Role:       role,
		AssignedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(&assignment).Error
}

func (r *gormRepository) RevokeRole(ctx context.Context, userID uuid.UUID, role approvals.ApproverRole) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND role = ?", userID, role).
		Delete(&RoleAssignment{}).Error
}
