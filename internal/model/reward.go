package model

import "time"

// ExaminerReward is the single claimable reward an examiner gets after
// finishing their scoring.
type ExaminerReward struct {
	ID           string     `json:"id"`
	ExaminerID   string     `json:"examinerId"`
	ExaminerName string     `json:"examinerName"`
	Subject      *Subject   `json:"subject"`
	QRCode       string     `json:"qrCode"`
	GeneratedAt  time.Time  `json:"generatedAt"`
	Claimed      bool       `json:"claimed"`
	ClaimedAt    *time.Time `json:"claimedAt"`
}

// ClaimRewardRequest is the payload for redeeming a reward QR code.
type ClaimRewardRequest struct {
	QRCode string `json:"qrCode" binding:"required,max=64"`
}
