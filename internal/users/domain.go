package users

import "time"

// User represents an account managed through the console.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	RoleIDs      []int64   `json:"role_ids"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateUserRequest is the payload of POST /users. A non-empty RoleIDs also
// needs user-role_create.
type CreateUserRequest struct {
	Username string  `json:"username" validate:"required,max=64"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	RoleIDs  []int64 `json:"role_ids" validate:"omitempty,dive,gt=0"`
}

// UpdateUserRequest is the payload of PUT /users/{id}. Nil fields are left unchanged.
type UpdateUserRequest struct {
	Username *string `json:"username" validate:"omitempty,max=64"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// UpdateProfileRequest is the payload of POST /users/me.
type UpdateProfileRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

// ReplaceRolesRequest is the payload of PUT /users/{id}/roles.
type ReplaceRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"required,dive,gt=0"`
}
