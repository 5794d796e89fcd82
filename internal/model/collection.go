package model

// Collection names one synchronized dataset.
type Collection string

const (
	CollectionStudents        Collection = "students"
	CollectionUsers           Collection = "users"
	CollectionClasses         Collection = "classes"
	CollectionQuestions       Collection = "questions"
	CollectionActivityLog     Collection = "activityLog"
	CollectionExaminerRewards Collection = "examinerRewards"
	CollectionSettings        Collection = "settings"
)

// Collections lists every synchronized collection in pull order.
var Collections = []Collection{
	CollectionStudents,
	CollectionUsers,
	CollectionClasses,
	CollectionQuestions,
	CollectionActivityLog,
	CollectionExaminerRewards,
	CollectionSettings,
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// ReplacesMembership reports whether a full push of c deletes records the
// push omits. The activity log and rewards only ever grow.
func (c Collection) ReplacesMembership() bool {
	switch c {
	case CollectionStudents, CollectionUsers, CollectionQuestions, CollectionClasses:
		return true
	}
	return false
}

// ParseCollection accepts both the wire names and the snake_case names used
// by older clients ("activity_log", "examiner_rewards").
func ParseCollection(s string) (Collection, bool) {
	switch s {
	case "activity_log":
		return CollectionActivityLog, true
	case "examiner_rewards", "rewards":
		return CollectionExaminerRewards, true
	}
	c := Collection(s)
	return c, c.Valid()
}
