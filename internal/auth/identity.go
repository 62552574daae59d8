package auth

import "cmsapi/internal/model"

// Identity is the authenticated user attached to a request.
// Roles are the slugs read from the credential store, not the token.
type Identity struct {
	UserID   uint     `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Lastname string   `json:"lastname"`
	Roles    []string `json:"roles"`
}

// IdentityFromUser builds an identity from a user loaded with its roles.
func IdentityFromUser(u *model.User) Identity {
	return Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Name:     u.Name,
		Lastname: u.Lastname,
		Roles:    u.RoleSlugs(),
	}
}
