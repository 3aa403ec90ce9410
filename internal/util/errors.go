package util

import "errors"

var (
	ErrEmailRegistered    = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrInvalidStudentID   = errors.New("student_id is required")
	ErrInvalidThreshold   = errors.New("threshold must be a positive integer")
	ErrInvalidConfidence  = errors.New("confidence must be between 0 and 1")
	ErrAllProvidersFailed = errors.New("all AI providers failed")
	ErrNoProviders        = errors.New("no AI providers configured")
	ErrInvalidTransition  = errors.New("invalid queue status transition")
	ErrMissingAnswers     = errors.New("student_answer and correct_answer are required")
)
