// Package wire defines the JSON frame protocol spoken over the venue stream.
//
// Outbound frames are commands:
//
//	{"id": 3, "cmd": "subscribe", "params": {"channel": "ticks", "security_id": "BTC/USD"}}
//
// Inbound frames share one envelope discriminated by "type":
//
//	{"type": "subscribed", "id": 3, "sid": "17"}
//	{"type": "trade", "sid": "17", "seq": 9, "msg": {...}}
//	{"type": "order_update", "msg": {"order_id": "X1", "status": "Working", ...}}
//
// "id" echoes the transaction id of the command that caused the frame;
// "sid" is the venue-assigned subscription id carried by data frames.
package wire
