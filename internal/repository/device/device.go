package device

import (
	"errors"
	"time"
)

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceAlreadyExists = errors.New("device already exists")
)

type Device struct {
	Id          string
	StableKey   string
	DisplayName string
	Class       string
	ConnectedAt time.Time
}

type SetDeviceParams struct {
	Id          string
	StableKey   string
	DisplayName string
	Class       string
	ConnectedAt time.Time
}

type UpdateDisplayNameParams struct {
	Id          string
	DisplayName string
}
