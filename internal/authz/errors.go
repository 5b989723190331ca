package authz

import "errors"

var (
	ErrUnknownRole   = errors.New("authz: unknown role")
	ErrInvalidPolicy = errors.New("authz: invalid policy")
	ErrMissingActor  = errors.New("authz: missing actor")
)
