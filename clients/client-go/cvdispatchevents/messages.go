package cvdispatchevents

import "time"

// WorkerConnectedMessage is the payload on the worker-connected exchange.
type WorkerConnectedMessage struct {
	MessageID string    `json:"messageId"`
	SessionID string    `json:"sessionId"`
	ClientID  string    `json:"clientId"`
	Connected time.Time `json:"connected"`
}

// WorkerExpiredMessage is the payload on the worker-expired exchange.
type WorkerExpiredMessage struct {
	MessageID     string    `json:"messageId"`
	SessionID     string    `json:"sessionId"`
	ClientID      string    `json:"clientId"`
	LastSeen      time.Time `json:"lastSeen"`
	RequeuedIndex *int      `json:"requeuedIndex,omitempty"`
}

// TestFinishedMessage is the payload on the test-finished exchange.
type TestFinishedMessage struct {
	MessageID            string `json:"messageId"`
	SessionID            string `json:"sessionId"`
	ClientID             string `json:"clientId"`
	TestIndex            int    `json:"testIndex"`
	Status               string `json:"status"`
	DurationMilliseconds int64  `json:"durationMilliseconds"`
}

// RunFinishedMessage is the payload on the run-finished exchange.
type RunFinishedMessage struct {
	MessageID            string `json:"messageId"`
	SessionID            string `json:"sessionId"`
	CompletedTests       int    `json:"completedTests"`
	DurationMilliseconds int64  `json:"durationMilliseconds"`
}
