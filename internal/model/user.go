package model

import (
	"github.com/google/uuid"
)

// User is the statement owner as exposed by the identity service.
type User struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Username string    `json:"username" db:"username"`
	Email    string    `json:"email" db:"email"`
}
