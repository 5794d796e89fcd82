package model

import "time"

// ActivityEntry is one line of the audit trail. The log is stored newest
// first and only ever grows between trims.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// Actor identifies who performed an audited action.
type Actor struct {
	UserID   string
	UserName string
}

// SystemActor is used when no committee member is logged in.
var SystemActor = Actor{UserID: "system", UserName: "System"}
