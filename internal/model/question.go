package model

type Difficulty string

const (
	DifficultyFoundation   Difficulty = "foundation"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// swagger:model Question
type Question struct {
	BaseModel
	TopicID       uint       `gorm:"index;not null" json:"topicId"`
	Topic         string     `gorm:"size:100" json:"topic"`
	Subject       string     `gorm:"size:50;default:'maths'" json:"subject"` // maths, english, verbal, non_verbal
	Difficulty    Difficulty `gorm:"size:20;not null;default:'intermediate'" json:"difficulty"`
	Stem          string     `gorm:"type:text;not null" json:"stem"`
	CorrectAnswer string     `gorm:"size:10;not null" json:"correctAnswer"`
}

func (Question) TableName() string {
	return "questions"
}

// swagger:model AnswerOption
type AnswerOption struct {
	ID                  uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestionID          uint    `gorm:"uniqueIndex:idx_question_option;not null" json:"questionId"`
	OptionLetter        string  `gorm:"uniqueIndex:idx_question_option;size:5;not null" json:"optionLetter"`
	Value               string  `gorm:"type:text" json:"value"`
	IsCorrect           bool    `gorm:"default:false" json:"isCorrect"`
	MisconceptionCode   *string `gorm:"size:50;index" json:"misconceptionCode,omitempty"`
	DetectionConfidence float64 `gorm:"default:0" json:"detectionConfidence"`
	PatternRules        string  `gorm:"type:text" json:"patternRules,omitempty"` // 原样保存的 JSON 规则
}

func (AnswerOption) TableName() string {
	return "answer_options"
}
