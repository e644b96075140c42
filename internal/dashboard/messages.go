package dashboard

import (
	"encoding/json"
	"time"
)

// MessageType names the payload carried in Message.Data.
type MessageType string

const (
	MessageTypeSyncComplete MessageType = "sync_complete" // SyncCompleteData
	MessageTypeSyncFailed   MessageType = "sync_failed"   // SyncFailedData
	MessageTypeStats        MessageType = "stats"         // StatsData
	MessageTypeRejected     MessageType = "rejected"      // RejectedData
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncCompleteData mirrors the counters of a reconcile.Result.
type SyncCompleteData struct {
	Created         int           `json:"created"`
	Updated         int           `json:"updated"`
	Purged          int           `json:"purged"`
	Failed          int           `json:"failed"`
	Rejected        int           `json:"rejected"`
	Inserted        int           `json:"inserted"`
	Overwritten     int           `json:"overwritten"`
	RemovedUpstream int           `json:"removed_upstream"`
	Conflicts       int           `json:"conflicts"`
	Duration        time.Duration `json:"duration"`
}

type SyncFailedData struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// StatsData holds local item counts. Pending counts dirty rows.
type StatsData struct {
	Total     int `json:"total"`
	Tasks     int `json:"tasks"`
	Events    int `json:"events"`
	Reminders int `json:"reminders"`
	Pending   int `json:"pending"`
	Deleted   int `json:"deleted"`
	Rejected  int `json:"rejected"`
}

// RejectedData identifies a change the server refused.
type RejectedData struct {
	ItemID  string `json:"item_id"`
	Kind    string `json:"kind"`
	Op      string `json:"op"`
	Message string `json:"message"`
}
