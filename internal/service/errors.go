package service

import "errors"

var (
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrPilotNotFound      = errors.New("pilot not found")
	ErrForbidden          = errors.New("you don't have access to this pilot")
	ErrAdminOnly          = errors.New("this action requires the admin role")
	ErrPilotNotAffiliated = errors.New("pilot is not affiliated")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrAlreadyConfirmed   = errors.New("payment already confirmed")
	ErrNotConfirmed       = errors.New("payment is not confirmed")
	ErrInvalidInput       = errors.New("invalid input")
)
