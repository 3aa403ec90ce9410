package model

import "time"

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

const (
	PriorityNoMisconception   = 1
	PriorityWithMisconception = 2
)

// CanTransition 队列状态只允许 pending/failed -> processing -> completed/failed
func (s QueueStatus) CanTransition(to QueueStatus) bool {
	switch s {
	case QueueStatusPending:
		return to == QueueStatusProcessing
	case QueueStatusProcessing:
		return to == QueueStatusCompleted || to == QueueStatusFailed
	case QueueStatusFailed:
		// 失败项被重新认领
		return to == QueueStatusProcessing
	}
	return false
}

// swagger:model MisconceptionQueueItem
type MisconceptionQueueItem struct {
	ID                uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID         uint        `gorm:"index;not null" json:"studentId"`
	QuestionID        uint        `gorm:"not null" json:"questionId"`
	StudentAnswer     string      `gorm:"size:255" json:"studentAnswer"`
	CorrectAnswer     string      `gorm:"size:255" json:"correctAnswer"`
	MisconceptionCode *string     `gorm:"size:50" json:"misconceptionCode,omitempty"`
	Priority          int         `gorm:"index:idx_queue_claim,priority:2;default:1" json:"priority"`
	Status            QueueStatus `gorm:"index:idx_queue_claim,priority:1;size:20;default:'pending'" json:"status"`
	RetryCount        int         `gorm:"default:0" json:"retryCount"`
	LastError         string      `gorm:"type:text" json:"lastError,omitempty"`
	APIUsed           string      `gorm:"size:30" json:"apiUsed,omitempty"`
	ProcessedAt       *time.Time  `json:"processedAt,omitempty"`
	CreatedAt         time.Time   `gorm:"index:idx_queue_claim,priority:3" json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

func (MisconceptionQueueItem) TableName() string {
	return "misconception_queue"
}

// swagger:model ExplanationCacheEntry
type ExplanationCacheEntry struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CacheKey          string    `gorm:"size:191;uniqueIndex;not null" json:"cacheKey"`
	StudentID         uint      `gorm:"index" json:"studentId"`
	QuestionID        uint      `json:"questionId"`
	MisconceptionCode *string   `gorm:"size:50" json:"misconceptionCode,omitempty"`
	Explanation       string    `gorm:"type:text;not null" json:"explanation"`
	APIUsed           string    `gorm:"size:30" json:"apiUsed"`
	UsageCount        int       `gorm:"default:0" json:"usageCount"`
	LastAccessed      time.Time `gorm:"index" json:"lastAccessed"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (ExplanationCacheEntry) TableName() string {
	return "misconception_explanation_cache"
}

// MisconceptionPatternRecord 分析结果的尽力缓存，权威数据仍是作答历史
type MisconceptionPatternRecord struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID         uint      `gorm:"uniqueIndex:idx_student_code;not null" json:"studentId"`
	MisconceptionCode string    `gorm:"uniqueIndex:idx_student_code;size:50;not null" json:"misconceptionCode"`
	Frequency         int       `json:"frequency"`
	Severity          string    `gorm:"size:20" json:"severity"`
	PatternType       string    `gorm:"size:20" json:"patternType"`
	Trend             string    `gorm:"size:20" json:"trend"`
	Topics            string    `gorm:"type:text" json:"topics"` // JSON 数组
	AnalyzedAt        time.Time `json:"analyzedAt"`
}

func (MisconceptionPatternRecord) TableName() string {
	return "misconception_patterns"
}
