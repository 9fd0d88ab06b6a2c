// Package protocol implements the JSON hub protocol spoken by the auction hub.
//
// Records are JSON objects terminated by RecordSeparator (0x1E). A single
// WebSocket frame may carry several records. The connection starts with a
// handshake record in each direction, after which every record carries a
// numeric "type" field (see MessageType).
package protocol
