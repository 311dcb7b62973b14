package models

import "errors"

var (
	ErrNotFound          = errors.New("registro não encontrado")
	ErrAlreadyExists     = errors.New("registro já existe")
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
	ErrStateConflict     = errors.New("agent state changed concurrently")
	ErrNotConfigured     = errors.New("integration not configured")
)
