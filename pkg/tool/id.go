package tool

import "github.com/google/uuid"

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewToken returns a random v4 uuid, used where ordering is irrelevant (lock owners).
func NewToken() string {
	return uuid.NewString()
}
