package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

const (
	questionMarker   = "QUESTION:"
	conclusionMarker = "CONCLUSION:"

	minQuestionLength   = 10
	minConclusionLength = 20
	maxQueryLength      = 200
)

var hsCodePattern = regexp.MustCompile(`\b\d{4}(?:\.\d{2,4}){1,3}\b`)

type stepResponse struct {
	Type         string   `json:"type"`
	Question     string   `json:"question"`
	QuestionType string   `json:"question_type"`
	Conclusion   string   `json:"conclusion"`
	Options      []string `json:"options"`
	Codes        []string `json:"codes"`
}

// parseNextStep reads a question generator response. JSON is preferred; the
// QUESTION:/CONCLUSION: marker format is accepted for models that ignore the
// response format. Truncated or unrecognizable responses are errors.
func parseNextStep(content string) (model.NextStep, error) {
	content = cleanMarkdownWrapper(content)
	if content == "" {
		return model.NextStep{}, fmt.Errorf("empty response")
	}

	if strings.HasPrefix(content, "{") {
		var resp stepResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return model.NextStep{}, fmt.Errorf("failed to parse JSON response: %w", err)
		}
		return stepFromJSON(resp)
	}

	return stepFromMarkers(content)
}

func stepFromJSON(resp stepResponse) (model.NextStep, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Type)) {
	case "question":
		question := strings.TrimSpace(resp.Question)
		if err := checkQuestion(question); err != nil {
			return model.NextStep{}, err
		}

		q := &model.Question{Text: question, Type: model.QuestionFreeText}
		options := trimAll(resp.Options)
		if model.QuestionType(resp.QuestionType) == model.QuestionMultipleChoice || len(options) > 0 {
			q.Type = model.QuestionMultipleChoice
			q.Options = options
		}
		step := model.NextStep{Question: q}
		if err := step.Validate(); err != nil {
			return model.NextStep{}, fmt.Errorf("invalid question: %w", err)
		}
		return step, nil

	case "conclusion":
		conclusion := strings.TrimSpace(resp.Conclusion)
		if len(conclusion) < minConclusionLength {
			return model.NextStep{}, fmt.Errorf("conclusion appears truncated: %q", conclusion)
		}
		codes := trimAll(resp.Codes)
		if len(codes) == 0 {
			codes = extractCodes(conclusion)
		}
		return model.NextStep{Convergence: &model.Convergence{Conclusion: conclusion, Codes: codes}}, nil

	default:
		return model.NextStep{}, fmt.Errorf("unknown response type %q", resp.Type)
	}
}

func stepFromMarkers(content string) (model.NextStep, error) {
	content = strings.ReplaceAll(content, "**", "")

	if idx := strings.Index(content, questionMarker); idx >= 0 {
		question := strings.TrimSpace(content[idx+len(questionMarker):])
		if err := checkQuestion(question); err != nil {
			return model.NextStep{}, err
		}
		return model.NextStep{Question: &model.Question{Text: question, Type: model.QuestionFreeText}}, nil
	}

	if idx := strings.Index(content, conclusionMarker); idx >= 0 {
		conclusion := strings.TrimSpace(content[idx+len(conclusionMarker):])
		if len(conclusion) < minConclusionLength {
			return model.NextStep{}, fmt.Errorf("conclusion appears truncated: %q", conclusion)
		}
		return model.NextStep{Convergence: &model.Convergence{
			Conclusion: conclusion,
			Codes:      extractCodes(conclusion),
		}}, nil
	}

	return model.NextStep{}, fmt.Errorf("response contains neither a question nor a conclusion")
}

func checkQuestion(question string) error {
	if len(question) < minQuestionLength || !strings.HasSuffix(question, "?") && !strings.HasSuffix(question, ".") && !strings.HasSuffix(question, "!") {
		return fmt.Errorf("question appears truncated: %q", question)
	}
	return nil
}

// extractCodes returns the distinct dotted HS codes mentioned in text, in order.
func extractCodes(text string) []string {
	matches := hsCodePattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			codes = append(codes, m)
		}
	}
	return codes
}

// cleanMarkdownWrapper strips a fenced code block around the response, if present.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```")
	if nl := strings.Index(content, "\n"); nl >= 0 {
		// drop the language tag line
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// cleanQuery reduces a query response to a single line of query text.
func cleanQuery(content string) (string, error) {
	content = cleanMarkdownWrapper(content)
	if nl := strings.Index(content, "\n"); nl >= 0 {
		content = content[:nl]
	}

	content = strings.TrimSpace(content)
	for _, prefix := range []string{"Query:", "query:", "QUERY:"} {
		content = strings.TrimSpace(strings.TrimPrefix(content, prefix))
	}
	content = strings.Trim(content, "\"'` ")

	if content == "" {
		return "", fmt.Errorf("empty search query in response")
	}
	if len(content) > maxQueryLength {
		return "", fmt.Errorf("search query too long (%d characters)", len(content))
	}
	return content, nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
