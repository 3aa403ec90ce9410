package service

import (
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/util"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type WeightingRequest struct {
	StudentID           uint    `json:"student_id" binding:"required"`
	TopicID             *uint   `json:"topic_id"`
	Count               int     `json:"count"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	AccuracyThreshold   float64 `json:"accuracy_threshold"`
}

type AppliedRule struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
	Reason string  `json:"reason"`
}

type WeightedQuestion struct {
	QuestionID     uint             `json:"question_id"`
	TopicID        uint             `json:"topic_id"`
	Topic          string           `json:"topic"`
	Difficulty     model.Difficulty `json:"difficulty"`
	Weight         float64          `json:"weight"`
	Reason         string           `json:"reason"`
	Priority       string           `json:"priority"`
	AdaptiveFactor float64          `json:"adaptive_factor"`
	AppliedRules   []AppliedRule    `json:"applied_rules"`
}

type TopicStat struct {
	TopicID    uint    `json:"topic_id"`
	Topic      string  `json:"topic"`
	Attempts   int     `json:"attempts"`
	Accuracy   float64 `json:"accuracy"`
	Confidence float64 `json:"confidence"`
}

// StudentProfile 由最近作答计算的学习画像
type StudentProfile struct {
	Responses      int                 `json:"responses"`
	AvgAccuracy    float64             `json:"avg_accuracy"`
	AvgConfidence  float64             `json:"avg_confidence"`
	Topics         map[uint]*TopicStat `json:"-"`
	WeakTopics     []string            `json:"weak_topics"`
	StrongTopics   []string            `json:"strong_topics"`
	Overconfident  []string            `json:"overconfident_topics"`
	Underconfident []string            `json:"underconfident_topics"`
}

func (p *StudentProfile) HasHistory() bool {
	return p.Responses > 0
}

type WeightingResult struct {
	StudentID uint               `json:"student_id"`
	Questions []WeightedQuestion `json:"questions"`
	Profile   *StudentProfile    `json:"profile"`
}

type AdaptiveWeightingService struct {
	Questions *repository.QuestionRepository
	Options   *repository.AnswerOptionRepository
	Responses *repository.ResponseRepository

	mu  sync.RWMutex
	cfg config.AdaptiveConfig
	now func() time.Time
}

func NewAdaptiveWeightingService(
	questions *repository.QuestionRepository,
	options *repository.AnswerOptionRepository,
	responses *repository.ResponseRepository,
	cfg config.AdaptiveConfig,
) *AdaptiveWeightingService {
	return &AdaptiveWeightingService{
		Questions: questions,
		Options:   options,
		Responses: responses,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *AdaptiveWeightingService) SetConfig(cfg config.AdaptiveConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *AdaptiveWeightingService) settings() config.AdaptiveConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *AdaptiveWeightingService) GetConfidenceWeightedQuestions(ctx context.Context, req WeightingRequest) (*WeightingResult, error) {
	cfg := s.settings()
	if req.StudentID == 0 {
		return nil, util.ErrInvalidStudentID
	}
	if req.Count <= 0 {
		req.Count = cfg.DefaultCount
	}
	if req.ConfidenceThreshold == 0 {
		req.ConfidenceThreshold = cfg.ConfidenceThreshold
	}
	if req.AccuracyThreshold == 0 {
		req.AccuracyThreshold = cfg.AccuracyThreshold
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 || req.AccuracyThreshold < 0 || req.AccuracyThreshold > 1 {
		return nil, util.ErrInvalidConfidence
	}

	history, err := s.Responses.RecentByStudent(ctx, req.StudentID, cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("load response history: %w", err)
	}
	profile := BuildStudentProfile(history)

	since := s.now().AddDate(0, 0, -cfg.RecentDays)
	recent, err := s.Responses.AnsweredQuestionIDsSince(ctx, req.StudentID, since)
	if err != nil {
		return nil, fmt.Errorf("load recent questions: %w", err)
	}

	// 整个候选池都参与加权，每批只保留当前前 Count 道
	weighted := make([]WeightedQuestion, 0, req.Count)
	err = s.Questions.EachCandidateBatch(ctx, req.TopicID, recent, cfg.CandidateBatchSize, func(batch []model.Question) error {
		ids := make([]uint, 0, len(batch))
		for _, q := range batch {
			ids = append(ids, q.ID)
		}
		tagged, err := s.Options.QuestionsWithMisconceptionTags(ctx, ids)
		if err != nil {
			return fmt.Errorf("load misconception tags: %w", err)
		}

		for i := range batch {
			weighted = append(weighted, weighQuestion(ruleInput{
				Profile:             profile,
				Question:            &batch[i],
				HasMisconceptionTag: tagged[batch[i].ID],
				ConfidenceThreshold: req.ConfidenceThreshold,
				AccuracyThreshold:   req.AccuracyThreshold,
			}, cfg.MinWeight, cfg.MaxWeight))
		}
		weighted = topWeighted(weighted, req.Count)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load candidate questions: %w", err)
	}

	return &WeightingResult{StudentID: req.StudentID, Questions: weighted, Profile: profile}, nil
}

// topWeighted 权重降序，同权重按题目 id 升序，截取前 n 道
func topWeighted(weighted []WeightedQuestion, n int) []WeightedQuestion {
	sort.Slice(weighted, func(i, j int) bool {
		if weighted[i].Weight != weighted[j].Weight {
			return weighted[i].Weight > weighted[j].Weight
		}
		return weighted[i].QuestionID < weighted[j].QuestionID
	})
	if len(weighted) > n {
		weighted = weighted[:n]
	}
	return weighted
}

const baseWeight = 1.0

func weighQuestion(in ruleInput, minWeight, maxWeight float64) WeightedQuestion {
	weight := baseWeight
	applied := []AppliedRule{}
	var reasons []string
	for _, rule := range weightRules {
		if !rule.Applies(in) {
			continue
		}
		weight *= rule.Factor
		applied = append(applied, AppliedRule{Name: rule.Name, Factor: rule.Factor, Reason: rule.Reason})
		reasons = append(reasons, rule.Reason)
	}
	weight = roundWeight(util.Clamp(weight, minWeight, maxWeight))

	reason := "baseline"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, ", ")
	}

	return WeightedQuestion{
		QuestionID:     in.Question.ID,
		TopicID:        in.Question.TopicID,
		Topic:          in.Question.Topic,
		Difficulty:     in.Question.Difficulty,
		Weight:         weight,
		Reason:         reason,
		Priority:       priorityBucket(weight),
		AdaptiveFactor: roundWeight(weight / baseWeight),
		AppliedRules:   applied,
	}
}

func priorityBucket(weight float64) string {
	switch {
	case weight >= 2:
		return "high"
	case weight >= 1:
		return "medium"
	default:
		return "low"
	}
}

func roundWeight(w float64) float64 {
	return math.Round(w*1000) / 1000
}

// StudentProfile 教师查看学生的正确率与信心画像
func (s *AdaptiveWeightingService) StudentProfile(ctx context.Context, studentID uint) (*StudentProfile, error) {
	if studentID == 0 {
		return nil, util.ErrInvalidStudentID
	}
	history, err := s.Responses.RecentByStudent(ctx, studentID, s.settings().HistorySize)
	if err != nil {
		return nil, fmt.Errorf("load response history: %w", err)
	}
	return BuildStudentProfile(history), nil
}

// BuildStudentProfile responses 按时间倒序传入即可，顺序不影响结果
func BuildStudentProfile(responses []model.StudentResponse) *StudentProfile {
	p := &StudentProfile{
		Topics:         make(map[uint]*TopicStat),
		WeakTopics:     []string{},
		StrongTopics:   []string{},
		Overconfident:  []string{},
		Underconfident: []string{},
	}
	if len(responses) == 0 {
		return p
	}

	var correct, confidence float64
	topicCorrect := make(map[uint]float64)
	topicConfidence := make(map[uint]float64)
	for _, r := range responses {
		p.Responses++
		confidence += r.Confidence
		if r.IsCorrect {
			correct++
			topicCorrect[r.TopicID]++
		}
		topicConfidence[r.TopicID] += r.Confidence

		t, ok := p.Topics[r.TopicID]
		if !ok {
			t = &TopicStat{TopicID: r.TopicID, Topic: r.Topic}
			p.Topics[r.TopicID] = t
		}
		t.Attempts++
	}

	n := float64(p.Responses)
	p.AvgAccuracy = correct / n
	p.AvgConfidence = confidence / n

	topicIDs := make([]uint, 0, len(p.Topics))
	for id := range p.Topics {
		topicIDs = append(topicIDs, id)
	}
	sort.Slice(topicIDs, func(i, j int) bool { return topicIDs[i] < topicIDs[j] })

	for _, id := range topicIDs {
		t := p.Topics[id]
		attempts := float64(t.Attempts)
		t.Accuracy = topicCorrect[id] / attempts
		t.Confidence = topicConfidence[id] / attempts

		name := t.Topic
		if name == "" {
			name = fmt.Sprintf("topic-%d", id)
		}
		if t.Accuracy < weakTopicAccuracy {
			p.WeakTopics = append(p.WeakTopics, name)
		}
		if t.Accuracy > strongTopicAccuracy {
			p.StrongTopics = append(p.StrongTopics, name)
		}
		if t.Confidence-t.Accuracy > calibrationGap {
			p.Overconfident = append(p.Overconfident, name)
		}
		if t.Accuracy-t.Confidence > calibrationGap {
			p.Underconfident = append(p.Underconfident, name)
		}
	}
	return p
}
