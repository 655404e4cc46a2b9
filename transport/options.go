package transport

import (
	"go.uber.org/zap"

	"github.com/luma/beacon/socket"
)

type Options struct {
	// Config addresses the endpoint to listen on.
	Config socket.Config

	// Dispatcher routes decoded requests to their handlers.
	Dispatcher *Dispatcher

	// Trace will log every raw frame read and written. This is only
	// useful in local debugging.
	Trace bool

	Log *zap.Logger
}
