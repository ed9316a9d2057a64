// Package ingest turns uploaded planning-board screenshots into issues. The
// AI call sits behind the Extractor contract: given an image reference it
// returns title/description pairs, nothing more.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type ExtractedIssue struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type Extractor interface {
	Extract(ctx context.Context, imageURL string) ([]ExtractedIssue, error)
}

// FactoryConfig constructs an extractor without leaking provider details.
type FactoryConfig struct {
	Provider  string // "openai" or "claude"
	OpenAIKey string
	ClaudeKey string
	Model     string
}

func NewExtractor(cfg FactoryConfig) Extractor {
	switch cfg.Provider {
	case "claude":
		return newClaudeExtractor(cfg)
	default:
		return newOpenAIExtractor(cfg)
	}
}

const extractPrompt = "Extract the issues defined in the screenshot. " +
	"Include a title for each issue and, if applicable, a description. " +
	"Only include a description when it adds meaningful information not present in the title. " +
	`Respond with JSON of the shape {"issues": [{"title": "...", "description": "..."}]}.`

// parseIssues decodes the model's JSON answer, tolerating code fences.
func parseIssues(answer string) ([]ExtractedIssue, error) {
	answer = strings.TrimSpace(answer)
	if strings.HasPrefix(answer, "```") {
		answer = strings.TrimPrefix(answer, "```json")
		answer = strings.TrimPrefix(answer, "```")
		answer = strings.TrimSuffix(strings.TrimSpace(answer), "```")
	}

	var result struct {
		Issues []ExtractedIssue `json:"issues"`
	}
	if err := json.Unmarshal([]byte(answer), &result); err != nil {
		return nil, fmt.Errorf("parse extractor response: %w", err)
	}

	issues := make([]ExtractedIssue, 0, len(result.Issues))
	for _, issue := range result.Issues {
		issue.Title = strings.TrimSpace(issue.Title)
		if issue.Title == "" {
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}
