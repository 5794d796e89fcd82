package model

// Question is an exam item attached to a room and subject. Content is either
// inline text or, for uploaded material, the public URL of the file.
type Question struct {
	ID            string  `json:"id"`
	Room          string  `json:"room"`
	Subject       Subject `json:"subject"`
	Content       string  `json:"content"`
	Type          string  `json:"type"`
	TargetStudent *string `json:"targetStudent"`
	StoragePath   *string `json:"storagePath"`
}

// CreateQuestionRequest is the payload for adding a text question.
type CreateQuestionRequest struct {
	Room          string  `json:"room" form:"room" binding:"required,max=50"`
	Subject       Subject `json:"subject" form:"subject" binding:"required,oneof=english arabic alquran"`
	Content       string  `json:"content" form:"content"`
	Type          string  `json:"type" form:"type" binding:"required,max=30"`
	TargetStudent *string `json:"targetStudent" form:"targetStudent"`
}
