package models

import "time"

// User is an account record owned by the auth layer. The routing core
// only ever sees the opaque Username as an identity.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
