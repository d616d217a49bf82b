package users

import "time"

type User struct {
	ID        string
	Email     string
	Role      string
	Salt      []byte
	Verifier  []byte
	CreatedAt time.Time
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
