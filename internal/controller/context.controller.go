package controller

import (
	"context"

	"golang.org/x/time/rate"
)

type contextKey int

const (
	deviceIdCtxKey contextKey = iota
	limiterCtxKey
	receivedAtCtxKey
)

func (c controller) getDeviceIdFromCtx(ctx context.Context) string {
	deviceId, ok := ctx.Value(deviceIdCtxKey).(string)
	if !ok {
		return ""
	}

	return deviceId
}

func (c controller) getLimiterFromCtx(ctx context.Context) *rate.Limiter {
	limiter, ok := ctx.Value(limiterCtxKey).(*rate.Limiter)
	if !ok {
		return nil
	}

	return limiter
}

func (c controller) getReceivedAtFromCtx(ctx context.Context) int64 {
	receivedAt, ok := ctx.Value(receivedAtCtxKey).(int64)
	if !ok {
		return 0
	}

	return receivedAt
}
