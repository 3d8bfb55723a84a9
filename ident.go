package courier

import "github.com/google/uuid"

// IsValidIdentifier reports whether s is a well-formed UUID other than
// the nil UUID.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id != uuid.Nil
}

func newID() string {
	return uuid.NewString()
}
