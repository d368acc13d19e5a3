package core

import "strings"

// Identity is the signed-in user as handed over by the identity provider.
type Identity struct {
	UserID      string
	DisplayName string
}

// Valid reports whether the identity names a user.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.UserID) != ""
}

// Name returns the display name, falling back to the user id.
func (i Identity) Name() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	return i.UserID
}
