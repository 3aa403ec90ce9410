package model

import "time"

// StudentResponse 学生作答历史，权威数据，本子系统只读（提交答案时追加）
type StudentResponse struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID         uint      `gorm:"index:idx_student_answered,priority:1;not null" json:"studentId"`
	QuestionID        uint      `gorm:"index;not null" json:"questionId"`
	TopicID           uint      `gorm:"index" json:"topicId"`
	Topic             string    `gorm:"size:100" json:"topic"`
	SelectedAnswer    string    `gorm:"size:10" json:"selectedAnswer"`
	IsCorrect         bool      `json:"isCorrect"`
	Confidence        float64   `gorm:"default:0" json:"confidence"` // 学生自评信心 0~1
	MisconceptionCode *string   `gorm:"size:50;index" json:"misconceptionCode,omitempty"`
	AnsweredAt        time.Time `gorm:"index:idx_student_answered,priority:2" json:"answeredAt"`
}

func (StudentResponse) TableName() string {
	return "student_responses"
}
