package models

// TokenSet is what the credential and refresh endpoints hand back.
// User is only present on login; RefreshToken is optional on refresh.
type TokenSet struct {
	User         *User  `json:"user,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
