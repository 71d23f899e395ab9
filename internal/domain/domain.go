package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// User is a party on an appointment: every patient and every doctor is a
// user with the matching role. The scheduling core only ever reads role
// and active/deleted state from this record; it never mutates it.
type User struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	Email        string `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;type:varchar(255);not null"`
	FirstName    string `gorm:"column:first_name;type:varchar(100);not null"`
	LastName     string `gorm:"column:last_name;type:varchar(100);not null"`
	Role         Role   `gorm:"column:role;type:varchar(30);not null;index"`

	IsActive    bool       `gorm:"column:is_active;default:true;index"`
	LastLoginAt *time.Time `gorm:"column:last_login_at"`
}

func (User) TableName() string {
	return "auth.users"
}

// CanBeScheduled reports whether this user may appear on a new
// appointment: active, not soft-deleted, and holding the given role.
func (u *User) CanBeScheduled(role Role) bool {
	return u.Role == role && u.IsActive && u.DeletedAt == nil
}

type AuditAction string

const (
	ActionCreate     AuditAction = "create"
	ActionRead       AuditAction = "read"
	ActionUpdate     AuditAction = "update"
	ActionCancel     AuditAction = "cancel"
	ActionDelete     AuditAction = "delete"
	ActionLogin      AuditAction = "login"
	ActionReschedule AuditAction = "reschedule"
)

type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	UserRole  Role      `gorm:"column:user_role;type:varchar(30);not null"`
	IPAddress string    `gorm:"column:ip_address;type:varchar(45)"` // Supports IPv6

	Action       AuditAction `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string      `gorm:"column:resource_id;type:varchar(50);index"`

	RequestID string `gorm:"column:request_id;type:varchar(50);index"`
	Changes   string `gorm:"column:changes;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"` // Always "Bearer"
}

type Claims struct {
	UserID uuid.UUID `json:"sub"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
}
