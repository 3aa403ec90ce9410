package service

import (
	"context"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/util"
	"sort"
)

const (
	// APIUsedFallback 所有提供方失败时返回的 apiUsed
	APIUsedFallback = "fallback"
	// APIUsedNone 没有需要解释的内容，未调用模型
	APIUsedNone = "none"

	summaryTopN = 5
)

const noMisconceptionsMessage = "Great work! There are no repeated mistakes to explain right now. Keep practising to stay sharp."

type ExplanationResult struct {
	Explanation string `json:"explanation"`
	APIUsed     string `json:"apiUsed"`
}

// ExplanationService 即时生成解释（不经过队列）
type ExplanationService struct {
	AI        *AIService
	Responses *repository.ResponseRepository
}

func NewExplanationService(ai *AIService, responses *repository.ResponseRepository) *ExplanationService {
	return &ExplanationService{AI: ai, Responses: responses}
}

// ExplainStudent 针对学生最常见的误区写一段总结
func (s *ExplanationService) ExplainStudent(ctx context.Context, studentID uint) (*ExplanationResult, error) {
	if studentID == 0 {
		return nil, util.ErrInvalidStudentID
	}
	freqs, err := s.Responses.MisconceptionFrequencies(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if len(freqs) == 0 {
		return &ExplanationResult{Explanation: noMisconceptionsMessage, APIUsed: APIUsedNone}, nil
	}

	sort.SliceStable(freqs, func(i, j int) bool { return freqs[i].Frequency > freqs[j].Frequency })
	if len(freqs) > summaryTopN {
		freqs = freqs[:summaryTopN]
	}
	return s.generate(ctx, buildStudentSummaryPrompt(freqs))
}

func (s *ExplanationService) ExplainMistake(ctx context.Context, m MistakeContext) (*ExplanationResult, error) {
	if m.StudentAnswer == "" || m.CorrectAnswer == "" {
		return nil, util.ErrMissingAnswers
	}
	return s.generate(ctx, buildMistakePrompt(m))
}

// generate 失败时仍返回兜底文案，调用方据 error 决定状态码
func (s *ExplanationService) generate(ctx context.Context, prompt string) (*ExplanationResult, error) {
	text, provider, err := s.AI.Generate(ctx, explanationSystemPrompt, prompt)
	if err != nil {
		return &ExplanationResult{Explanation: util.FallbackExplanation, APIUsed: APIUsedFallback}, err
	}
	return &ExplanationResult{Explanation: text, APIUsed: provider}, nil
}
