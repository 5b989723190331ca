package account

import "errors"

var (
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrUserNotFound       = errors.New("account: user not found")
	ErrInvalidInput       = errors.New("account: invalid input")
)
