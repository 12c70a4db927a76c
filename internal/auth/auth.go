// Package auth checks the credentials ranks present when joining a mesh.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// GroupToken admits peers presenting the same shared token. The empty
// token admits only peers that present none.
type GroupToken string

func (g GroupToken) Validate(token string) error {
	if len(g) != len(token) {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(g), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}
