package domain

import "time"

// User is a local account keyed by the identity provider's subject.
type User struct {
	ID          int       `json:"id"`
	ReferenceID string    `json:"reference_id"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
