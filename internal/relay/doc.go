// Package relay is the channel fan-out hub between senders and subscribers.
//
// Connections join the hub over WebSocket (GET /ws) and send control
// frames:
//
//	{"action":"subscribe","channel":"customer-42"}
//	{"action":"unsubscribe","channel":"customer-42"}
//	{"action":"publish","event":"notification","channel":"customer-42","data":{...}}
//
// A frame without an action but with data is treated as a publish. The hub
// relays published frames (without the action) to every connection
// subscribed to exactly that channel. Delivery is best-effort: each
// connection has a bounded send queue and frames that do not fit are
// dropped for that connection only.
//
// Publishes can also arrive over HTTP (POST /notify) and, when a bridge is
// configured, from other relay instances.
package relay
