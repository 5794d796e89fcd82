package model

// Statistics is the desk dashboard summary.
type Statistics struct {
	Total      int `json:"total"`
	Siswa      int `json:"siswa"`
	Guru       int `json:"guru"`
	Attended   int `json:"attended"`
	Pending    int `json:"pending"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
}

// SubjectStats summarizes the scores of attended participants in one subject.
// Avg is rounded to one decimal.
type SubjectStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// RoomStats summarizes one class.
type RoomStats struct {
	Room      string  `json:"room"`
	Total     int     `json:"total"`
	Attended  int     `json:"attended"`
	Completed int     `json:"completed"`
	AvgScore  float64 `json:"avgScore"`
}

// ExaminerProgress tells an examiner how much scoring is left.
type ExaminerProgress struct {
	Total     int  `json:"total"`
	Scored    int  `json:"scored"`
	Remaining int  `json:"remaining"`
	Complete  bool `json:"complete"`
}
