package controller

import (
	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(
		c.receivedAtWSMw(),
		c.wsRequestIdWSMw(),
		c.loggerWSMw(),
		c.rateLimitWSMw(),
		c.validateWSMw(),
	)
	mux.SetErrorHandler(c.handleWSError)

	// clock
	wsrouter.Handle(mux, string(protocol.TypeClockProbe), c.handleClockProbe)

	// relayed controls
	wsrouter.Handle(mux, string(protocol.TypePlay), relay[protocol.Play](c))
	wsrouter.Handle(mux, string(protocol.TypePause), relay[protocol.Pause](c))
	wsrouter.Handle(mux, string(protocol.TypeSeek), relay[protocol.Seek](c))
	wsrouter.Handle(mux, string(protocol.TypeTrackChange), relay[protocol.TrackChange](c))
	wsrouter.Handle(mux, string(protocol.TypeVolumeChange), relay[protocol.VolumeChange](c))

	// scheduled
	wsrouter.Handle(mux, string(protocol.TypeSyncPlayRequest), c.handleSyncPlayRequest)
	wsrouter.Handle(mux, string(protocol.TypeSyncNextTrack), c.handleSyncNextTrack)

	// registry
	wsrouter.Handle(mux, string(protocol.TypeUpdateDeviceName), c.handleUpdateDeviceName)

	return mux
}
