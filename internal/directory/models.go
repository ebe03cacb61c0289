package directory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"tenderdesk/procurement-backend/internal/approvals"
)

// User is a directory entry. The engine never reads this table directly;
// it only sees user ids handed back by the Resolver.
type User struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EmployeeNumber string         `gorm:"uniqueIndex;size:32" json:"employee_number"`
	FullName       string         `gorm:"size:255" json:"full_name"`
	Email          string         `gorm:"uniqueIndex;size:255" json:"email"`
	PasswordHash   string         `gorm:"size:255" json:"-"`
	IsActive       bool           `json:"is_active"`
	Preferences    datatypes.JSON `json:"preferences,omitempty"`
	Roles          []RoleAssignment `gorm:"foreignKey:UserID" json:"roles,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// RoleAssignment grants a user an approver role.
type RoleAssignment struct {
	ID         uuid.UUID              `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID              `gorm:"type:uuid;index" json:"user_id"`
	Role       approvals.ApproverRole `gorm:"size:64;index" json:"role"`
	AssignedAt time.Time              `json:"assigned_at"`
}

func (RoleAssignment) TableName() string { return "role_assignments" }
