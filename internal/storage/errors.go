// Package storage — общий контракт хранилища для ядра.
package storage

import "errors"

var (
	// ErrZoneNotFound — зону удалили или она уже ушла из живого статуса между чтением и записью.
	ErrZoneNotFound       = errors.New("zone not found")
	ErrInstrumentNotFound = errors.New("instrument not found")
)
