package connection

import "errors"

var (
	ErrNotFound      = errors.New("connection not found")
	ErrAlreadyExists = errors.New("connection already exists")
)

// Conn is the sending side of a device transport channel.
type Conn interface {
	TrySend(frame []byte) error
	Close()
}
