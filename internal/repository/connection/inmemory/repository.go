package inmemory

import (
	"log/slog"
	"sync"

	"github.com/sharetube/syncplay/internal/repository/connection"
)

type repo struct {
	connList map[connection.Conn]string
	idList   map[string]connection.Conn
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		connList: make(map[connection.Conn]string),
		idList:   make(map[string]connection.Conn),
		logger:   logger,
	}
}

func (r *repo) Add(conn connection.Conn, deviceId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug("connection.inmemory.Add", "device_id", deviceId)
	if _, ok := r.connList[conn]; ok {
		return connection.ErrAlreadyExists
	}
	if _, ok := r.idList[deviceId]; ok {
		return connection.ErrAlreadyExists
	}

	r.connList[conn] = deviceId
	r.idList[deviceId] = conn

	return nil
}

// RemoveByDeviceId forgets the connection without closing it; the transport
// owns the socket lifecycle.
func (r *repo) RemoveByDeviceId(deviceId string) (connection.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug("connection.inmemory.RemoveByDeviceId", "device_id", deviceId)
	conn, ok := r.idList[deviceId]
	if !ok {
		return nil, connection.ErrNotFound
	}

	delete(r.connList, conn)
	delete(r.idList, deviceId)

	return conn, nil
}

func (r *repo) GetConn(deviceId string) (connection.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.idList[deviceId]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

func (r *repo) GetDeviceId(conn connection.Conn) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deviceId, ok := r.connList[conn]
	if !ok {
		return "", connection.ErrNotFound
	}

	return deviceId, nil
}

// All returns a copy of the device id to connection mapping.
func (r *repo) All() map[string]connection.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]connection.Conn, len(r.idList))
	for id, conn := range r.idList {
		out[id] = conn
	}

	return out
}
