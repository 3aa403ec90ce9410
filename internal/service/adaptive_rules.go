package service

import "elevenplus_backend/internal/model"

// 画像分档
const (
	weakTopicAccuracy   = 0.6
	strongTopicAccuracy = 0.8
	calibrationGap      = 0.2
	highPerformerAcc    = 0.8
)

// weightRule 一条乘法权重规则；多条规则同时命中时连乘
type weightRule struct {
	Name    string
	Factor  float64
	Reason  string
	Applies func(in ruleInput) bool
}

type ruleInput struct {
	Profile             *StudentProfile
	Question            *model.Question
	HasMisconceptionTag bool
	ConfidenceThreshold float64
	AccuracyThreshold   float64
}

func (in ruleInput) topic() *TopicStat {
	return in.Profile.Topics[in.Question.TopicID]
}

var weightRules = []weightRule{
	{
		Name:   "topic_weakness",
		Factor: 2.0,
		Reason: "weak topic",
		Applies: func(in ruleInput) bool {
			t := in.topic()
			return t != nil && t.Accuracy < weakTopicAccuracy
		},
	},
	{
		Name:   "topic_strength",
		Factor: 0.5,
		Reason: "strong topic",
		Applies: func(in ruleInput) bool {
			t := in.topic()
			return t != nil && t.Accuracy > strongTopicAccuracy
		},
	},
	{
		Name:   "overconfidence",
		Factor: 1.5,
		Reason: "overconfident in topic",
		Applies: func(in ruleInput) bool {
			t := in.topic()
			return t != nil && t.Confidence-t.Accuracy > calibrationGap
		},
	},
	{
		Name:   "underconfidence",
		Factor: 1.3,
		Reason: "underconfident in topic",
		Applies: func(in ruleInput) bool {
			t := in.topic()
			return t != nil && t.Accuracy-t.Confidence > calibrationGap
		},
	},
	{
		Name:   "low_accuracy_foundation",
		Factor: 1.5,
		Reason: "foundation practice",
		Applies: func(in ruleInput) bool {
			return in.Profile.HasHistory() &&
				in.Profile.AvgAccuracy < in.AccuracyThreshold &&
				in.Question.Difficulty == model.DifficultyFoundation
		},
	},
	{
		Name:   "low_accuracy_non_foundation",
		Factor: 0.3,
		Reason: "too hard for now",
		Applies: func(in ruleInput) bool {
			return in.Profile.HasHistory() &&
				in.Profile.AvgAccuracy < in.AccuracyThreshold &&
				in.Question.Difficulty != model.DifficultyFoundation
		},
	},
	{
		Name:   "high_performer_advanced",
		Factor: 1.8,
		Reason: "stretch challenge",
		Applies: func(in ruleInput) bool {
			return in.Profile.HasHistory() &&
				in.Profile.AvgAccuracy > highPerformerAcc &&
				in.Profile.AvgConfidence >= in.ConfidenceThreshold &&
				in.Question.Difficulty == model.DifficultyAdvanced
		},
	},
	{
		Name:   "misconception_present",
		Factor: 1.2,
		Reason: "diagnostic distractors",
		Applies: func(in ruleInput) bool {
			return in.HasMisconceptionTag
		},
	},
}
