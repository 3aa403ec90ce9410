// Package seed 导入题库与账号等参考数据（YAML）
package seed

import (
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/service"
	"elevenplus_backend/pkg/logger"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Option struct {
	Letter              string  `yaml:"letter"`
	Value               string  `yaml:"value"`
	MisconceptionCode   string  `yaml:"misconception_code"`
	DetectionConfidence float64 `yaml:"detection_confidence"`
	PatternRules        string  `yaml:"pattern_rules"`
}

type Question struct {
	TopicID       uint     `yaml:"topic_id"`
	Topic         string   `yaml:"topic"`
	Subject       string   `yaml:"subject"`
	Difficulty    string   `yaml:"difficulty"`
	Stem          string   `yaml:"stem"`
	CorrectAnswer string   `yaml:"correct_answer"`
	Options       []Option `yaml:"options"`
}

type User struct {
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	Role      string `yaml:"role"`
	YearGroup int    `yaml:"year_group"`
}

type Data struct {
	Users     []User     `yaml:"users"`
	Questions []Question `yaml:"questions"`
}

type Stats struct {
	UsersCreated     int
	UsersSkipped     int
	QuestionsCreated int
	QuestionsUpdated int
	Options          int
}

func LoadFile(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Data, error) {
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &data, nil
}

// Validate 每道题恰好一个正确选项，且干扰项的检测置信度在 0~1
func (d *Data) Validate() error {
	for i, q := range d.Questions {
		if q.Stem == "" || q.CorrectAnswer == "" {
			return fmt.Errorf("questions[%d]: stem and correct_answer are required", i)
		}
		switch model.Difficulty(q.Difficulty) {
		case "", model.DifficultyFoundation, model.DifficultyIntermediate, model.DifficultyAdvanced:
		default:
			return fmt.Errorf("questions[%d]: unknown difficulty %q", i, q.Difficulty)
		}
		found := false
		seen := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			letter := strings.ToUpper(o.Letter)
			if letter == "" || seen[letter] {
				return fmt.Errorf("questions[%d]: option letter %q missing or duplicated", i, o.Letter)
			}
			seen[letter] = true
			if strings.EqualFold(o.Letter, q.CorrectAnswer) {
				found = true
				if o.MisconceptionCode != "" {
					return fmt.Errorf("questions[%d]: correct option %s must not carry a misconception code", i, o.Letter)
				}
			}
			if o.DetectionConfidence < 0 || o.DetectionConfidence > 1 {
				return fmt.Errorf("questions[%d] option %s: detection_confidence out of range", i, o.Letter)
			}
		}
		if !found {
			return fmt.Errorf("questions[%d]: correct answer %s has no matching option", i, q.CorrectAnswer)
		}
	}
	for i, u := range d.Users {
		if u.Email == "" || u.Password == "" {
			return fmt.Errorf("users[%d]: email and password are required", i)
		}
		switch model.UserRole(u.Role) {
		case "", model.Student, model.Teacher, model.Admin:
		default:
			return fmt.Errorf("users[%d]: unknown role %q", i, u.Role)
		}
	}
	return nil
}

// Apply 可重复执行：已存在的账号跳过，题目按 (topic_id, stem) 匹配后更新
func Apply(ctx context.Context, db *gorm.DB, data *Data) (*Stats, error) {
	stats := &Stats{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range data.Users {
			if err := applyUser(tx, u, stats); err != nil {
				return err
			}
		}
		for _, q := range data.Questions {
			if err := applyQuestion(tx, q, stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Reference data seeded",
		zap.Int("usersCreated", stats.UsersCreated),
		zap.Int("usersSkipped", stats.UsersSkipped),
		zap.Int("questionsCreated", stats.QuestionsCreated),
		zap.Int("questionsUpdated", stats.QuestionsUpdated),
		zap.Int("options", stats.Options),
	)
	return stats, nil
}

func applyUser(tx *gorm.DB, u User, stats *Stats) error {
	email := strings.ToLower(strings.TrimSpace(u.Email))

	var existing model.User
	err := tx.Where("email = ?", email).First(&existing).Error
	if err == nil {
		stats.UsersSkipped++
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := service.HashPassword(u.Password)
	if err != nil {
		return err
	}
	user := &model.User{
		Name:      u.Name,
		Email:     email,
		Password:  hashed,
		Role:      model.UserRole(u.Role),
		YearGroup: u.YearGroup,
	}
	if user.Role == "" {
		user.Role = model.Student
	}
	if user.YearGroup == 0 {
		user.YearGroup = 5
	}
	if err := tx.Create(user).Error; err != nil {
		return fmt.Errorf("create user %s: %w", email, err)
	}
	stats.UsersCreated++
	return nil
}

func applyQuestion(tx *gorm.DB, q Question, stats *Stats) error {
	question := model.Question{TopicID: q.TopicID, Stem: q.Stem}
	err := tx.Where("topic_id = ? AND stem = ?", q.TopicID, q.Stem).First(&question).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return err
	}

	question.Topic = q.Topic
	question.Subject = q.Subject
	if question.Subject == "" {
		question.Subject = "maths"
	}
	question.Difficulty = model.Difficulty(q.Difficulty)
	if question.Difficulty == "" {
		question.Difficulty = model.DifficultyIntermediate
	}
	question.CorrectAnswer = strings.ToUpper(q.CorrectAnswer)
	if err := tx.Save(&question).Error; err != nil {
		return fmt.Errorf("save question %q: %w", q.Stem, err)
	}
	if created {
		stats.QuestionsCreated++
	} else {
		stats.QuestionsUpdated++
	}

	for _, o := range q.Options {
		letter := strings.ToUpper(o.Letter)
		opt := model.AnswerOption{
			QuestionID:          question.ID,
			OptionLetter:        letter,
			Value:               o.Value,
			IsCorrect:           letter == question.CorrectAnswer,
			DetectionConfidence: o.DetectionConfidence,
			PatternRules:        o.PatternRules,
		}
		if o.MisconceptionCode != "" {
			opt.MisconceptionCode = model.StringPtr(o.MisconceptionCode)
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "question_id"}, {Name: "option_letter"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "is_correct", "misconception_code", "detection_confidence", "pattern_rules"}),
		}).Create(&opt).Error
		if err != nil {
			return fmt.Errorf("upsert option %s of %q: %w", letter, q.Stem, err)
		}
		stats.Options++
	}
	return nil
}
