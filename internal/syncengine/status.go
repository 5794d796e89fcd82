package syncengine

// Status is the desk's connection indicator.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusSyncing    Status = "syncing"
	StatusOffline    Status = "offline"
	StatusError      Status = "error"
)

// StatusInfo is what the UI shows next to the indicator.
type StatusInfo struct {
	Status    Status `json:"status"`
	Backend   string `json:"backend"`
	LastError string `json:"lastError,omitempty"`
	// LastSyncAt is the epoch millis of the last successful pull or push.
	LastSyncAt int64 `json:"lastSyncAt,omitempty"`
}
