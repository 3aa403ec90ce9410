package util

const DateFormat = "2006-01-02"

const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

const (
	// CronTokenHeader 定时任务调用内部接口时携带的令牌头
	CronTokenHeader = "X-Cron-Token"

	// QueueProcessorLockKey 队列处理器分布式锁
	QueueProcessorLockKey = "lock:misconception:queue-processor"
)

// FallbackExplanation 所有 AI 提供方都失败时返回给前端的兜底文案
const FallbackExplanation = "We couldn't prepare a personalised explanation just now. " +
	"Have another careful look at the question, compare your answer with the correct one, " +
	"and ask your tutor if it still doesn't make sense."
