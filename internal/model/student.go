package model

import "time"

// StudentType distinguishes pupils from teachers taking the exam.
type StudentType string

const (
	StudentTypeSiswa StudentType = "siswa"
	StudentTypeGuru  StudentType = "guru"
)

// Subject is one of the three examined subjects.
type Subject string

const (
	SubjectEnglish Subject = "english"
	SubjectArabic  Subject = "arabic"
	SubjectAlquran Subject = "alquran"
)

// Subjects lists the examined subjects in display order.
var Subjects = []Subject{SubjectEnglish, SubjectArabic, SubjectAlquran}

// Valid reports whether s is an examined subject.
func (s Subject) Valid() bool {
	return s == SubjectEnglish || s == SubjectArabic || s == SubjectAlquran
}

// Scores holds one nullable score per subject.
type Scores struct {
	English *float64 `json:"english"`
	Arabic  *float64 `json:"arabic"`
	Alquran *float64 `json:"alquran"`
}

// Get returns the score for s, or nil when not yet scored.
func (sc Scores) Get(s Subject) *float64 {
	switch s {
	case SubjectEnglish:
		return sc.English
	case SubjectArabic:
		return sc.Arabic
	case SubjectAlquran:
		return sc.Alquran
	}
	return nil
}

// Complete reports whether every subject has a score.
func (sc Scores) Complete() bool {
	return sc.English != nil && sc.Arabic != nil && sc.Alquran != nil
}

// Average returns the mean of the three scores. Only meaningful when Complete.
func (sc Scores) Average() float64 {
	if !sc.Complete() {
		return 0
	}
	return (*sc.English + *sc.Arabic + *sc.Alquran) / 3
}

// ScoredBy records which examiner produced each score.
type ScoredBy struct {
	English *string `json:"english"`
	Arabic  *string `json:"arabic"`
	Alquran *string `json:"alquran"`
}

// Student is an exam participant.
type Student struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Class      string      `json:"class"`
	Type       StudentType `json:"type"`
	QRCode     string      `json:"qrCode"`
	Attended   bool        `json:"attended"`
	AttendedAt *time.Time  `json:"attendedAt"`
	Scores     Scores      `json:"scores"`
	ScoredBy   ScoredBy    `json:"scoredBy"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// SetScore records score for subject together with the examiner that gave it.
// A nil score clears both sides so the pair never disagrees.
func (s *Student) SetScore(subject Subject, score *float64, examinerID string) {
	var by *string
	if score != nil {
		v := *score
		score = &v
		e := examinerID
		by = &e
	}
	switch subject {
	case SubjectEnglish:
		s.Scores.English, s.ScoredBy.English = score, by
	case SubjectArabic:
		s.Scores.Arabic, s.ScoredBy.Arabic = score, by
	case SubjectAlquran:
		s.Scores.Alquran, s.ScoredBy.Alquran = score, by
	}
}

// CreateStudentRequest is the payload for registering a participant.
type CreateStudentRequest struct {
	Name  string      `json:"name" binding:"required,notblank,max=255"`
	Class string      `json:"class" binding:"required,notblank,max=50"`
	Type  StudentType `json:"type" binding:"omitempty,oneof=siswa guru"`
}

// ImportStudentsRequest registers many participants at once.
type ImportStudentsRequest struct {
	Students []CreateStudentRequest `json:"students" binding:"required,min=1,dive"`
}

// UpdateStudentRequest patches a participant. Nil fields are left untouched.
type UpdateStudentRequest struct {
	Name  *string      `json:"name" binding:"omitempty,max=255"`
	Class *string      `json:"class" binding:"omitempty,max=50"`
	Type  *StudentType `json:"type" binding:"omitempty,oneof=siswa guru"`
}

// UpdateScoreRequest records one subject score for a participant.
type UpdateScoreRequest struct {
	Subject Subject  `json:"subject" binding:"required,oneof=english arabic alquran"`
	Score   *float64 `json:"score" binding:"omitempty,min=0,max=100"`
}

// RankedStudent is a participant with every subject scored, ordered by average.
type RankedStudent struct {
	Student
	Average float64 `json:"average"`
	Rank    int     `json:"rank"`
}
