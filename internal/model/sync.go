package model

import "encoding/json"

// PullResponse is the authority's answer to a full pull.
type PullResponse struct {
	Collections map[Collection]Envelope `json:"collections"`
}

// PushRequest replaces one collection at the authority.
type PushRequest struct {
	Payload   json.RawMessage `json:"payload" binding:"required"`
	UpdatedAt int64           `json:"updated_at" binding:"gte=0"`
	Origin    string          `json:"origin" binding:"max=64"`
}

// SettingPushRequest writes a single settings key at the authority.
type SettingPushRequest struct {
	Value     json.RawMessage `json:"value" binding:"required"`
	UpdatedAt int64           `json:"updated_at" binding:"gte=0"`
	Origin    string          `json:"origin" binding:"max=64"`
}

// PushResult acknowledges a committed push.
type PushResult struct {
	Success bool `json:"success"`
}

// UploadResult describes a stored file.
type UploadResult struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
}
