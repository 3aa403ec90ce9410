package controller

import (
	"bytes"
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/middleware"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/service"
	"elevenplus_backend/internal/testutil"
	"elevenplus_backend/internal/util"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "controller-test-secret"

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Name() string { return "deepseek" }

func (p *stubProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return p.reply, p.err
}

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	provider *stubProvider
	question *model.Question
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	questions := repository.NewQuestionRepository(db)
	options := repository.NewAnswerOptionRepository(db)
	responses := repository.NewResponseRepository(db)
	queueRepo := repository.NewMisconceptionQueueRepository(db)

	provider := &stubProvider{reply: "Keep the denominator the same."}
	ai := service.NewAIService(provider)
	cache := service.NewExplanationCacheService(repository.NewExplanationCacheRepository(db), time.Hour)
	queue := service.NewMisconceptionQueueService(queueRepo)

	processor := service.NewQueueProcessorService(queueRepo, questions, options, cache, ai, nil, &service.LocalRunLocker{}, config.MisconceptionConfig{BatchSize: 10, MaxRetries: 3})
	analyzer := service.NewPatternAnalyzerService(responses, repository.NewMisconceptionPatternRepository(db), 3)
	explanation := service.NewExplanationService(ai, responses)
	weighting := service.NewAdaptiveWeightingService(questions, options, responses, config.AdaptiveConfig{
		HistorySize: 50, RecentDays: 7, DefaultCount: 10, ConfidenceThreshold: 0.7,
		AccuracyThreshold: 0.6, MinWeight: 0.05, MaxWeight: 10, CandidateBatchSize: 200,
	})

	answers := NewAnswerController(service.NewAnswerService(questions, options, responses, cache, queue))
	misconceptions := NewMisconceptionController(processor, analyzer, explanation)
	adaptive := NewAdaptiveController(weighting)

	r := gin.New()
	api := r.Group("/api", middleware.AuthMiddleware(testSecret))
	api.POST("/answers", answers.SubmitAnswer)
	api.POST("/misconceptions/patterns", misconceptions.AnalyzePatterns)
	api.POST("/misconceptions/explain", misconceptions.Explain)
	api.POST("/adaptive/questions", adaptive.WeightedQuestions)
	api.GET("/teacher/students/:id/profile", middleware.RoleMiddleware(model.Teacher), adaptive.StudentProfile)

	internal := r.Group("/api/internal/misconceptions", middleware.CronTokenOrAdmin("cron", testSecret))
	internal.POST("/process-queue", misconceptions.ProcessQueue)
	internal.GET("/queue-stats", misconceptions.QueueStats)

	return &testServer{
		router:   r,
		db:       db,
		provider: provider,
		question: testutil.SeedQuestion(t, db, 1, "fractions", model.DifficultyFoundation, "A", map[string]string{"B": "FRAC_ADD_DENOM"}),
	}
}

func bearer(t *testing.T, userID uint, role model.UserRole) string {
	t.Helper()
	u := &model.User{Email: "u@example.com", Role: role}
	u.ID = userID
	token, err := util.GenerateJWT(u, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) do(method, path, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestSubmitAnswerThenProcessQueue(t *testing.T) {
	s := newTestServer(t)
	student := bearer(t, 7, model.Student)

	w := s.do(http.MethodPost, "/api/answers", student, gin.H{
		"student_id": 7, "question_id": s.question.ID, "selected_answer": "B", "confidence": 0.9,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var envelope struct {
		Code int                        `json:"code"`
		Data service.SubmitAnswerResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.Queued)
	assert.Equal(t, "FRAC_ADD_DENOM", model.StringValue(envelope.Data.MisconceptionCode))

	// 学生不能替别人提交
	w = s.do(http.MethodPost, "/api/answers", student, gin.H{
		"student_id": 8, "question_id": s.question.ID, "selected_answer": "B",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/answers", student, gin.H{
		"student_id": 7, "question_id": 9999, "selected_answer": "B",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/misconceptions/process-queue", nil)
	req.Header.Set(util.CronTokenHeader, "cron")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, true, result["success"])
	assert.Equal(t, float64(1), result["processed"])
	assert.Equal(t, float64(1), result["apiCalls"])
	assert.Equal(t, float64(0), result["cacheHits"])
	assert.Contains(t, result, "optimizationRate")

	// 解释已缓存，再次答错直接返回
	w = s.do(http.MethodPost, "/api/answers", student, gin.H{
		"student_id": 7, "question_id": s.question.ID, "selected_answer": "B",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "Keep the denominator the same.", envelope.Data.Explanation)
	assert.False(t, envelope.Data.Queued)

	w = s.do(http.MethodGet, "/api/internal/misconceptions/queue-stats", bearer(t, 1, model.Admin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/api/internal/misconceptions/process-queue", student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAnalyzePatterns(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 12; i++ {
		require.NoError(t, s.db.Create(&model.StudentResponse{
			StudentID: 5, QuestionID: 1, Topic: "fractions", MisconceptionCode: model.StringPtr("FR1"), AnsweredAt: time.Now(),
		}).Error)
	}

	w := s.do(http.MethodPost, "/api/misconceptions/patterns", bearer(t, 5, model.Student), gin.H{"student_id": 5, "threshold": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	for _, key := range []string{"patterns", "critical_patterns", "emerging_patterns", "recommendations", "problematic_topics", "analysis_summary"} {
		assert.Contains(t, body, key)
	}
	critical := body["critical_patterns"].([]any)
	require.Len(t, critical, 1)
	assert.Equal(t, "FR1", critical[0].(map[string]any)["misconception_code"])

	w = s.do(http.MethodPost, "/api/misconceptions/patterns", bearer(t, 5, model.Student), gin.H{"student_id": 5, "threshold": -2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/misconceptions/patterns", bearer(t, 6, model.Teacher), gin.H{"student_id": 5})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExplain(t *testing.T) {
	s := newTestServer(t)
	auth := bearer(t, 5, model.Student)

	w := s.do(http.MethodPost, "/api/misconceptions/explain", auth, gin.H{
		"question": "1/4 + 1/4", "student_answer": "2/8", "correct_answer": "1/2", "misconception": "FRAC_ADD_DENOM",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Keep the denominator the same.", body["explanation"])
	assert.Equal(t, "deepseek", body["apiUsed"])

	s.provider.err = errors.New("upstream down")
	w = s.do(http.MethodPost, "/api/misconceptions/explain", auth, gin.H{
		"student_answer": "2/8", "correct_answer": "1/2",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, util.FallbackExplanation, body["explanation"])
	assert.Equal(t, "fallback", body["apiUsed"])
	assert.Contains(t, body, "error")

	w = s.do(http.MethodPost, "/api/misconceptions/explain", auth, gin.H{"question": "only"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWeightedQuestions(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/adaptive/questions", bearer(t, 3, model.Student), gin.H{"student_id": 3, "count": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var envelope struct {
		Data service.WeightingResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data.Questions, 1)
	assert.Equal(t, s.question.ID, envelope.Data.Questions[0].QuestionID)
	assert.InDelta(t, 1.2, envelope.Data.Questions[0].Weight, 1e-9)

	w = s.do(http.MethodPost, "/api/adaptive/questions", "", gin.H{"student_id": 3})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStudentProfile(t *testing.T) {
	s := newTestServer(t)
	for _, correct := range []bool{true, true, false, true} {
		require.NoError(t, s.db.Create(&model.StudentResponse{
			StudentID: 4, QuestionID: s.question.ID, TopicID: 1, Topic: "fractions",
			IsCorrect: correct, Confidence: 0.9, AnsweredAt: time.Now(),
		}).Error)
	}

	w := s.do(http.MethodGet, "/api/teacher/students/4/profile", bearer(t, 2, model.Teacher), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var envelope struct {
		Data service.StudentProfile `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 4, envelope.Data.Responses)
	assert.InDelta(t, 0.75, envelope.Data.AvgAccuracy, 1e-9)

	w = s.do(http.MethodGet, "/api/teacher/students/4/profile", bearer(t, 4, model.Student), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/teacher/students/abc/profile", bearer(t, 2, model.Teacher), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
