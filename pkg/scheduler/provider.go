package scheduler

import (
	"context"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
)

// Handler is the callback surface a provider adapter drives. Request ids
// are catalog indices; catalog.ControlChannel marks connection notices.
type Handler interface {
	// OnReady signals that the connection accepts submissions.
	OnReady()

	// OnData delivers one payload (a bar, a tick) for a request.
	OnData(id catalog.RequestIndex, payload any)

	// OnItemComplete signals that a request has delivered all its data.
	OnItemComplete(id catalog.RequestIndex)

	// OnError reports a provider error code for a request or for the
	// control channel.
	OnError(id catalog.RequestIndex, code int, message string)

	// OnConnectionClosed signals that the connection is gone.
	OnConnectionClosed()
}

// Connection is the submission surface of one persistent provider
// connection.
//
// Adapters must deliver Handler callbacks from their own event goroutine,
// never synchronously from within Submit.
type Connection interface {
	// Connect opens the connection and starts delivering callbacks to h.
	// An error means no connection was established.
	Connect(ctx context.Context, h Handler) error

	// Submit sends one request. Resubmitting an id replaces the request.
	Submit(id catalog.RequestIndex, d catalog.Descriptor, w Window) error

	// Disconnect closes the connection.
	Disconnect() error
}
