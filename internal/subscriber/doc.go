// Package subscriber multiplexes logical channel subscriptions over one
// relay connection.
//
// Registry is the dispatch table: (channel, event) → handlers. Client owns
// the socket and tells the relay to subscribe when a channel gets its first
// handler and to unsubscribe when the last one goes. Binding follows a
// changing identity (logged-in customer, staff member) and guarantees that
// rebinding tears the old subscription down before the new one is made.
//
// There is no reconnect. If the socket drops, Run returns and the caller
// decides what to do; subscriptions are not replayed.
package subscriber
