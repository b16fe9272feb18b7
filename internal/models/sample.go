// Package models defines the data structures shared across the agent:
// per-tick size samples and the JSON payloads exchanged with the central server.
package models

import "time"

// Unknown marks a size that could not be read this tick.
const Unknown int64 = -1

// Sample is one poll tick's reading of the unit's receive and transmit logs.
type Sample struct {
	RX         int64     `json:"rx_size"`
	TX         int64     `json:"tx_size"`
	ObservedAt time.Time `json:"observed_at"`
}

// Known reports whether size holds a real byte count.
func Known(size int64) bool { return size >= 0 }

// MessageResponse is the body of GET /get_dummy_message and of upload replies.
type MessageResponse struct {
	Message string `json:"message"`
}

// UploadRecord describes one capture file received by the central server.
type UploadRecord struct {
	ID         string    `json:"id"`
	StationID  string    `json:"laptop_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	ReceivedAt time.Time `json:"received_at"`
}
