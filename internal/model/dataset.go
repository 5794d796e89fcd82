package model

import (
	"encoding/json"
	"fmt"
)

// Dataset is every collection in typed form. The authority snapshots into
// it and desk backups serialize it.
type Dataset struct {
	Students        []Student        `json:"students"`
	Users           []User           `json:"users"`
	Classes         []string         `json:"classes"`
	Questions       []Question       `json:"questions"`
	ActivityLog     []ActivityEntry  `json:"activityLog"`
	ExaminerRewards []ExaminerReward `json:"examinerRewards"`
	Settings        Settings         `json:"settings"`
}

// Payload encodes one collection of the dataset. Nil slices encode as [].
func (d *Dataset) Payload(c Collection) (json.RawMessage, error) {
	var v any
	switch c {
	case CollectionStudents:
		v = nonNil(d.Students)
	case CollectionUsers:
		v = nonNil(d.Users)
	case CollectionClasses:
		v = nonNil(d.Classes)
	case CollectionQuestions:
		v = nonNil(d.Questions)
	case CollectionActivityLog:
		v = nonNil(d.ActivityLog)
	case CollectionExaminerRewards:
		v = nonNil(d.ExaminerRewards)
	case CollectionSettings:
		if d.Settings == nil {
			v = Settings{}
		} else {
			v = d.Settings
		}
	default:
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	return json.Marshal(v)
}

// SetPayload decodes raw into the dataset field for c.
func (d *Dataset) SetPayload(c Collection, raw json.RawMessage) error {
	var dst any
	switch c {
	case CollectionStudents:
		dst = &d.Students
	case CollectionUsers:
		dst = &d.Users
	case CollectionClasses:
		dst = &d.Classes
	case CollectionQuestions:
		dst = &d.Questions
	case CollectionActivityLog:
		dst = &d.ActivityLog
	case CollectionExaminerRewards:
		dst = &d.ExaminerRewards
	case CollectionSettings:
		dst = &d.Settings
	default:
		return fmt.Errorf("unknown collection %q", c)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", c, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Backup is the portable export of a desk's cache.
type Backup struct {
	Version   string   `json:"version"`
	CreatedAt string   `json:"createdAt"`
	Data      *Dataset `json:"data"`
}
