// Package ai implements the chat partner on top of hosted language models.
package ai

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperengineering/jukutatsu/pkg/journal"
)

// Default model names.
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-1.5-flash-latest"
)

const partnerInstruction = "You are a supportive learning partner in a personal journal. " +
	"The learner is working on the theme %q with the goal %q. " +
	"Reply briefly, ask one reflective question at a time, and help them notice what they have learned."

const extractInstruction = "Read the conversation below and list the distinct insights the learner reached. " +
	"Write one short insight per line in the learner's voice. Do not number the lines or add commentary. " +
	"If there are no insights, reply with nothing."

// SystemPrompt returns the partner instruction for a theme.
func SystemPrompt(themeName, goal string) string {
	if goal == "" {
		goal = "not stated yet"
	}
	return fmt.Sprintf(partnerInstruction, themeName, goal)
}

// ParseExtracted splits a model's extraction output into insights: one per
// line, list markers stripped, blank lines dropped.
func ParseExtracted(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = stripMarker(strings.TrimSpace(line))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func stripMarker(line string) string {
	for _, p := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(line[len(p):])
		}
	}
	// "1. foo" or "12) foo"
	i := 0
	for i < len(line) && unicode.IsDigit(rune(line[i])) {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:])
	}
	return line
}

// lastUserIndex finds the message a model should answer.
func lastUserIndex(history []journal.ChatMessage) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == journal.RoleUser {
			return i
		}
	}
	return -1
}
