package service

import (
	"elevenplus_backend/internal/repository"
	"fmt"
	"strings"
)

const explanationSystemPrompt = "You are a patient 11+ exam tutor for children aged 9 to 11. " +
	"Explain mistakes in simple British English, in no more than 120 words. " +
	"Be encouraging, name the misunderstanding plainly, and finish with one short tip to try next time."

// MistakeContext 单道错题的上下文
type MistakeContext struct {
	Question      string `json:"question"`
	StudentAnswer string `json:"student_answer"`
	CorrectAnswer string `json:"correct_answer"`
	Misconception string `json:"misconception"`
	Topic         string `json:"topic"`
}

func buildMistakePrompt(m MistakeContext) string {
	var b strings.Builder
	if m.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", m.Topic)
	}
	if m.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n", m.Question)
	}
	fmt.Fprintf(&b, "The pupil answered: %s\n", m.StudentAnswer)
	fmt.Fprintf(&b, "The correct answer is: %s\n", m.CorrectAnswer)
	if m.Misconception != "" {
		fmt.Fprintf(&b, "Likely misconception: %s\n", humanizeCode(m.Misconception))
	}
	b.WriteString("Explain to the pupil why their answer is wrong and how to reach the correct answer.")
	return b.String()
}

func buildStudentSummaryPrompt(freqs []repository.MisconceptionFrequency) string {
	var b strings.Builder
	b.WriteString("These are the misconceptions a pupil has shown most often recently:\n")
	for _, f := range freqs {
		fmt.Fprintf(&b, "- %s (seen %d times", humanizeCode(f.Code), f.Frequency)
		if len(f.Topics) > 0 {
			fmt.Fprintf(&b, " in %s", strings.Join(f.Topics, ", "))
		}
		b.WriteString(")\n")
	}
	b.WriteString("Write a short, friendly note to the pupil explaining the most important one and how to fix it.")
	return b.String()
}

// humanizeCode FRAC_ADD_DENOM -> "frac add denom (FRAC_ADD_DENOM)"
func humanizeCode(code string) string {
	words := strings.ToLower(strings.ReplaceAll(code, "_", " "))
	return fmt.Sprintf("%s (%s)", words, code)
}
