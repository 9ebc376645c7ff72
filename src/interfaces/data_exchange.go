package interfaces

import "context"

// -----------------------------------------------------------------------------
// IDataExchanger defines how the scheduler pushes data to connected clients.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast serializes message once and sends it to targets (nil means every live client).
	// Clients whose send fails are dropped; nothing is returned to the caller.
	Broadcast(ctx context.Context, message interface{}, targets []string)

	// -----------------------------------------------------------------------------
	// ClientIDs lists the identifiers of every live client.
	ClientIDs() []string
}

// -----------------------------------------------------------------------------
// ISubscriptionReader is the read side of the subscription index.
// -----------------------------------------------------------------------------

type ISubscriptionReader interface {
	AllSubscribedSymbols() []string
	SubscriptionsOf(clientID string) []string
	SubscribersOf(symbol string) []string
}

// -----------------------------------------------------------------------------
// ISubscriptionWriter is the write side of the subscription index.
// -----------------------------------------------------------------------------

type ISubscriptionWriter interface {
	Subscribe(clientID string, symbols []string)
	Unsubscribe(clientID string, symbols []string)
	UnsubscribeAll(clientID string)
}
