package service

import (
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/util"
	"elevenplus_backend/pkg/logger"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	PatternEmerging   = "emerging"
	PatternDeveloping = "developing"
	PatternRecurring  = "recurring"
	PatternPersistent = "persistent"

	TrendIncreasing = "increasing"
	TrendStable     = "stable"

	DefaultPatternThreshold = 3
)

// 固定分档
const (
	criticalFrequency   = 10
	highFrequency       = 6
	increasingFrequency = 5
)

type MisconceptionPattern struct {
	Code        string   `json:"misconception_code"`
	Frequency   int      `json:"frequency"`
	Severity    string   `json:"severity"`
	PatternType string   `json:"pattern_type"`
	Trend       string   `json:"trend"`
	Topics      []string `json:"topics"`
}

type ProblematicTopic struct {
	Topic          string   `json:"topic"`
	PatternCount   int      `json:"pattern_count"`
	TotalFrequency int      `json:"total_frequency"`
	Misconceptions []string `json:"misconceptions"`
}

type Recommendation struct {
	Priority          int    `json:"priority"`
	Type              string `json:"type"`
	MisconceptionCode string `json:"misconception_code,omitempty"`
	Topic             string `json:"topic,omitempty"`
	Message           string `json:"message"`
}

type AnalysisSummary struct {
	TotalPatterns    int       `json:"total_patterns"`
	CriticalCount    int       `json:"critical_count"`
	EmergingCount    int       `json:"emerging_count"`
	MostFrequent     string    `json:"most_frequent,omitempty"`
	TotalOccurrences int       `json:"total_occurrences"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
}

type PatternAnalysis struct {
	StudentID         uint                   `json:"student_id"`
	Threshold         int                    `json:"threshold"`
	Patterns          []MisconceptionPattern `json:"patterns"`
	CriticalPatterns  []MisconceptionPattern `json:"critical_patterns"`
	EmergingPatterns  []MisconceptionPattern `json:"emerging_patterns"`
	Recommendations   []Recommendation       `json:"recommendations"`
	ProblematicTopics []ProblematicTopic     `json:"problematic_topics"`
	AnalysisSummary   AnalysisSummary        `json:"analysis_summary"`
}

// ClassifyFrequency 纯函数：频次 -> 严重度 / 模式类型 / 趋势
func ClassifyFrequency(frequency, threshold int) (severity, patternType, trend string) {
	switch {
	case frequency >= criticalFrequency:
		severity, patternType = SeverityCritical, PatternPersistent
	case frequency >= highFrequency:
		severity, patternType = SeverityHigh, PatternRecurring
	case frequency >= threshold:
		severity, patternType = SeverityMedium, PatternDeveloping
	default:
		severity, patternType = SeverityLow, PatternEmerging
	}

	trend = TrendStable
	if frequency >= increasingFrequency {
		trend = TrendIncreasing
	}
	return severity, patternType, trend
}

type PatternAnalyzerService struct {
	Responses *repository.ResponseRepository
	Patterns  *repository.MisconceptionPatternRepository

	defaultThreshold int
	now              func() time.Time
}

func NewPatternAnalyzerService(responses *repository.ResponseRepository, patterns *repository.MisconceptionPatternRepository, defaultThreshold int) *PatternAnalyzerService {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultPatternThreshold
	}
	return &PatternAnalyzerService{
		Responses:        responses,
		Patterns:         patterns,
		defaultThreshold: defaultThreshold,
		now:              time.Now,
	}
}

// Analyze 同样的作答历史和阈值总是得到同样的结果
func (s *PatternAnalyzerService) Analyze(ctx context.Context, studentID uint, threshold int) (*PatternAnalysis, error) {
	if studentID == 0 {
		return nil, util.ErrInvalidStudentID
	}
	if threshold < 0 {
		return nil, util.ErrInvalidThreshold
	}
	if threshold == 0 {
		threshold = s.defaultThreshold
	}

	freqs, err := s.Responses.MisconceptionFrequencies(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load misconception frequencies: %w", err)
	}

	analysis := BuildPatternAnalysis(freqs, threshold, s.now())
	analysis.StudentID = studentID

	s.persist(ctx, studentID, analysis)
	return analysis, nil
}

// BuildPatternAnalysis 不访问数据库，便于单测
func BuildPatternAnalysis(freqs []repository.MisconceptionFrequency, threshold int, analyzedAt time.Time) *PatternAnalysis {
	analysis := &PatternAnalysis{
		Threshold:         threshold,
		Patterns:          []MisconceptionPattern{},
		CriticalPatterns:  []MisconceptionPattern{},
		EmergingPatterns:  []MisconceptionPattern{},
		Recommendations:   []Recommendation{},
		ProblematicTopics: []ProblematicTopic{},
	}

	for _, f := range freqs {
		if f.Frequency < threshold {
			continue
		}
		severity, patternType, trend := ClassifyFrequency(f.Frequency, threshold)
		topics := dedupeSorted(f.Topics)
		analysis.Patterns = append(analysis.Patterns, MisconceptionPattern{
			Code:        f.Code,
			Frequency:   f.Frequency,
			Severity:    severity,
			PatternType: patternType,
			Trend:       trend,
			Topics:      topics,
		})
	}

	sort.Slice(analysis.Patterns, func(i, j int) bool {
		a, b := analysis.Patterns[i], analysis.Patterns[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		return a.Code < b.Code
	})

	total := 0
	for _, p := range analysis.Patterns {
		total += p.Frequency
		if p.Severity == SeverityCritical {
			analysis.CriticalPatterns = append(analysis.CriticalPatterns, p)
		}
		if p.PatternType == PatternEmerging || p.PatternType == PatternDeveloping {
			analysis.EmergingPatterns = append(analysis.EmergingPatterns, p)
		}
	}

	analysis.ProblematicTopics = problematicTopics(analysis.Patterns)
	analysis.Recommendations = buildRecommendations(analysis)

	analysis.AnalysisSummary = AnalysisSummary{
		TotalPatterns:    len(analysis.Patterns),
		CriticalCount:    len(analysis.CriticalPatterns),
		EmergingCount:    len(analysis.EmergingPatterns),
		TotalOccurrences: total,
		AnalyzedAt:       analyzedAt,
	}
	if len(analysis.Patterns) > 0 {
		analysis.AnalysisSummary.MostFrequent = analysis.Patterns[0].Code
	}
	return analysis
}

// problematicTopics 至少出现在两个误区模式中的知识点，按频次和降序，同分按名称
func problematicTopics(patterns []MisconceptionPattern) []ProblematicTopic {
	byTopic := make(map[string]*ProblematicTopic)
	for _, p := range patterns {
		for _, topic := range p.Topics {
			t, ok := byTopic[topic]
			if !ok {
				t = &ProblematicTopic{Topic: topic}
				byTopic[topic] = t
			}
			t.PatternCount++
			t.TotalFrequency += p.Frequency
			t.Misconceptions = append(t.Misconceptions, p.Code)
		}
	}

	out := []ProblematicTopic{}
	for _, t := range byTopic {
		if t.PatternCount < 2 {
			continue
		}
		sort.Strings(t.Misconceptions)
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalFrequency != out[j].TotalFrequency {
			return out[i].TotalFrequency > out[j].TotalFrequency
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

func buildRecommendations(a *PatternAnalysis) []Recommendation {
	recs := []Recommendation{}
	for _, p := range a.CriticalPatterns {
		recs = append(recs, Recommendation{
			Priority:          1,
			Type:              "immediate_intervention",
			MisconceptionCode: p.Code,
			Message:           fmt.Sprintf("%s has appeared %d times. Schedule targeted one-to-one practice now.", p.Code, p.Frequency),
		})
	}
	for _, p := range a.EmergingPatterns {
		recs = append(recs, Recommendation{
			Priority:          2,
			Type:              "early_practice",
			MisconceptionCode: p.Code,
			Message:           fmt.Sprintf("%s is starting to repeat. Add a few short practice questions and keep an eye on it.", p.Code),
		})
	}
	for _, t := range a.ProblematicTopics {
		recs = append(recs, Recommendation{
			Priority: 3,
			Type:     "topic_review",
			Topic:    t.Topic,
			Message:  fmt.Sprintf("Several misconceptions cluster in %s. Revisit the topic from the basics.", t.Topic),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority < recs[j].Priority
		}
		return recs[i].MisconceptionCode+recs[i].Topic < recs[j].MisconceptionCode+recs[j].Topic
	})
	return recs
}

// persist 尽力写入分析缓存表，失败只记日志
func (s *PatternAnalyzerService) persist(ctx context.Context, studentID uint, a *PatternAnalysis) {
	if s.Patterns == nil || len(a.Patterns) == 0 {
		return
	}

	records := make([]model.MisconceptionPatternRecord, 0, len(a.Patterns))
	for _, p := range a.Patterns {
		topics, _ := json.Marshal(p.Topics)
		records = append(records, model.MisconceptionPatternRecord{
			StudentID:         studentID,
			MisconceptionCode: p.Code,
			Frequency:         p.Frequency,
			Severity:          p.Severity,
			PatternType:       p.PatternType,
			Trend:             p.Trend,
			Topics:            string(topics),
			AnalyzedAt:        a.AnalysisSummary.AnalyzedAt,
		})
	}

	if err := s.Patterns.Upsert(ctx, records); err != nil {
		logger.Log.Warn("Failed to store misconception patterns",
			zap.Uint("studentID", studentID),
			zap.Error(err),
		)
	}
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
