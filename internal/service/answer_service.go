package service

import (
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/util"
	"elevenplus_backend/pkg/logger"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DetectionResult 答案查表结果
type DetectionResult struct {
	MisconceptionCode *string `json:"misconceptionCode"`
	Confidence        float64 `json:"confidence"`
	FromCache         bool    `json:"fromCache"`
}

type SubmitAnswerRequest struct {
	StudentID      uint    `json:"student_id" binding:"required"`
	QuestionID     uint    `json:"question_id" binding:"required"`
	SelectedAnswer string  `json:"selected_answer" binding:"required"`
	Confidence     float64 `json:"confidence"`
}

type SubmitAnswerResult struct {
	ResponseID        uint    `json:"responseId"`
	IsCorrect         bool    `json:"isCorrect"`
	CorrectAnswer     string  `json:"correctAnswer"`
	MisconceptionCode *string `json:"misconceptionCode,omitempty"`
	Confidence        float64 `json:"detectionConfidence"`
	Explanation       string  `json:"explanation,omitempty"`
	Queued            bool    `json:"queued"`
	QueueItemID       uint    `json:"queueItemId,omitempty"`
}

type AnswerService struct {
	Questions *repository.QuestionRepository
	Options   *repository.AnswerOptionRepository
	Responses *repository.ResponseRepository
	Cache     *ExplanationCacheService
	Queue     *MisconceptionQueueService
}

func NewAnswerService(
	questions *repository.QuestionRepository,
	options *repository.AnswerOptionRepository,
	responses *repository.ResponseRepository,
	cache *ExplanationCacheService,
	queue *MisconceptionQueueService,
) *AnswerService {
	return &AnswerService{
		Questions: questions,
		Options:   options,
		Responses: responses,
		Cache:     cache,
		Queue:     queue,
	}
}

// LookupAnswer 纯查表，无副作用；查不到或出错都按"无误区"处理
func (s *AnswerService) LookupAnswer(ctx context.Context, questionID uint, selectedAnswer string) DetectionResult {
	return detectionFor(s.findOption(ctx, questionID, selectedAnswer))
}

func (s *AnswerService) findOption(ctx context.Context, questionID uint, selectedAnswer string) *model.AnswerOption {
	opt, err := s.Options.FindByAnswer(ctx, questionID, selectedAnswer)
	if err != nil {
		logger.Log.Warn("Answer option lookup failed",
			zap.Uint("questionID", questionID),
			zap.String("answer", selectedAnswer),
			zap.Error(err),
		)
		return nil
	}
	return opt
}

func detectionFor(opt *model.AnswerOption) DetectionResult {
	if opt == nil {
		return DetectionResult{}
	}
	if opt.IsCorrect {
		return DetectionResult{Confidence: 1}
	}
	if model.StringValue(opt.MisconceptionCode) == "" {
		return DetectionResult{Confidence: opt.DetectionConfidence}
	}
	return DetectionResult{
		MisconceptionCode: opt.MisconceptionCode,
		Confidence:        opt.DetectionConfidence,
	}
}

// SubmitAnswer 记录作答；答错且识别到误区时先查解释缓存，未命中则入队等待生成
func (s *AnswerService) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, util.ErrInvalidConfidence
	}

	q, err := s.Questions.FindByID(ctx, req.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuestionNotFound
		}
		return nil, err
	}

	answer := strings.TrimSpace(req.SelectedAnswer)
	opt := s.findOption(ctx, q.ID, answer)
	detection := detectionFor(opt)
	// 选项既可按字母也可按内容匹配，以匹配到的选项为准；匹配不到才和正确字母比较
	isCorrect := strings.EqualFold(answer, q.CorrectAnswer)
	if opt != nil {
		isCorrect = opt.IsCorrect
	}

	resp := &model.StudentResponse{
		StudentID:      req.StudentID,
		QuestionID:     q.ID,
		TopicID:        q.TopicID,
		Topic:          q.Topic,
		SelectedAnswer: answer,
		IsCorrect:      isCorrect,
		Confidence:     req.Confidence,
	}
	if !isCorrect {
		resp.MisconceptionCode = detection.MisconceptionCode
	}
	if err := s.Responses.Create(ctx, resp); err != nil {
		return nil, err
	}

	result := &SubmitAnswerResult{
		ResponseID:    resp.ID,
		IsCorrect:     isCorrect,
		CorrectAnswer: q.CorrectAnswer,
		Confidence:    detection.Confidence,
	}
	if isCorrect || detection.MisconceptionCode == nil {
		return result, nil
	}
	result.MisconceptionCode = detection.MisconceptionCode

	if explanation, ok := s.Cache.Get(ctx, req.StudentID, q.ID, detection.MisconceptionCode); ok {
		result.Explanation = explanation
		return result, nil
	}

	item, err := s.Queue.Enqueue(ctx, EnqueueRequest{
		StudentID:         req.StudentID,
		QuestionID:        q.ID,
		StudentAnswer:     answer,
		CorrectAnswer:     q.CorrectAnswer,
		MisconceptionCode: detection.MisconceptionCode,
	})
	if err != nil {
		// 入队失败不影响作答记录
		logger.Log.Error("Failed to enqueue misconception", zap.Uint("responseID", resp.ID), zap.Error(err))
		return result, nil
	}
	result.Queued = true
	result.QueueItemID = item.ID
	return result, nil
}
