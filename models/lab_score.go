// file: models/lab_score.go
package models

import (
	"time"
)

// LabScore 对应 lab_scores 表。(user_id, lab_id, level) 唯一，
// solved=true 之后该组合不再接受新的提交（防重放计分）。
type LabScore struct {
	ScoreID     uint32    `gorm:"column:score_id;primarykey"`
	UserID      string    `gorm:"column:user_id;size:50;not null;uniqueIndex:uk_user_lab_level"`
	LabID       int       `gorm:"column:lab_id;not null;uniqueIndex:uk_user_lab_level"`
	Level       int       `gorm:"default:0;uniqueIndex:uk_user_lab_level"`
	Score       int       `gorm:"default:0"`
	Solved      bool      `gorm:"default:false"`
	SubmittedAt time.Time `gorm:"column:submitted_at;default:CURRENT_TIMESTAMP"`
}

func (LabScore) TableName() string {
	return "lab_scores"
}
