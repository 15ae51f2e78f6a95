// Package envelope defines the notification wire format shared by the
// relay, the sender and the subscriber.
//
// A frame on the relay socket looks like:
//
//	{"event":"notification","channel":"customer-42","data":{...}}
//
// The data object carries the fixed notification fields (id, title, message,
// type, timestamp, read) followed by any extra key/value pairs in the order
// they were set. Clients add an "action" field to control frames
// (subscribe, unsubscribe, publish); the relay never sends one.
package envelope
