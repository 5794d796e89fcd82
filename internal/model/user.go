package model

import "time"

// Role is a committee role.
type Role string

const (
	RolePanitiaUtama Role = "panitia_utama"
	RolePenguji      Role = "penguji"
)

// AdminUserID is the seeded administrator that can never be deleted.
const AdminUserID = "admin-001"

// User is a committee member that can log in to a desk.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// Password holds a bcrypt hash. Seeded and legacy records may still carry
	// plaintext until their first successful login.
	Password        string    `json:"password"`
	Name            string    `json:"name"`
	Role            Role      `json:"role"`
	Subject         *Subject  `json:"subject"`
	AssignedClasses []string  `json:"assignedClasses"`
	QRCode          *string   `json:"qrCode"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DefaultAdmin returns the seeded administrator.
func DefaultAdmin() User {
	return User{
		ID:              AdminUserID,
		Username:        "admin",
		Password:        "exot2026",
		Name:            "Administrator",
		Role:            RolePanitiaUtama,
		AssignedClasses: []string{},
	}
}

// LoginRequest is the payload for desk login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=100"`
	Password string `json:"password" binding:"required,max=128"`
}

// LoginResponse is returned after a successful desk login.
type LoginResponse struct {
	Token   string  `json:"token"`
	Session Session `json:"session"`
}

// Session describes the logged-in committee member.
type Session struct {
	UserID          string    `json:"userId"`
	Username        string    `json:"username"`
	Name            string    `json:"name"`
	Role            Role      `json:"role"`
	Subject         *Subject  `json:"subject"`
	AssignedClasses []string  `json:"assignedClasses"`
	LoginAt         time.Time `json:"loginAt"`
}

// CreateUserRequest is the payload for adding a committee member.
type CreateUserRequest struct {
	Username        string   `json:"username" binding:"required,max=100"`
	Password        string   `json:"password" binding:"required,min=4,max=128"`
	Name            string   `json:"name" binding:"required,max=255"`
	Role            Role     `json:"role" binding:"required,oneof=panitia_utama penguji"`
	Subject         *Subject `json:"subject" binding:"omitempty,oneof=english arabic alquran"`
	AssignedClasses []string `json:"assignedClasses"`
}

// UpdateUserRequest patches a committee member. Nil fields are left untouched.
type UpdateUserRequest struct {
	Name            *string   `json:"name" binding:"omitempty,max=255"`
	Role            *Role     `json:"role" binding:"omitempty,oneof=panitia_utama penguji"`
	Subject         *Subject  `json:"subject" binding:"omitempty,oneof=english arabic alquran"`
	AssignedClasses *[]string `json:"assignedClasses"`
}

// ChangePasswordRequest is the payload for a self-service password change.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}
