package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

func TestParseNextStep(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantErr     string
		wantText    string
		wantType    model.QuestionType
		wantOptions []string
		wantCodes   []string
		converged   bool
	}{
		{
			name:     "json free text question",
			content:  `{"type": "question", "question": "Does it include a microphone?", "question_type": "free_text"}`,
			wantText: "Does it include a microphone?",
			wantType: model.QuestionFreeText,
		},
		{
			name:        "json multiple choice",
			content:     `{"type": "question", "question": "Is the fabric knitted or woven?", "question_type": "multiple_choice", "options": ["Knitted", " Woven ", ""]}`,
			wantText:    "Is the fabric knitted or woven?",
			wantType:    model.QuestionMultipleChoice,
			wantOptions: []string{"Knitted", "Woven"},
		},
		{
			name:    "multiple choice with one option",
			content: `{"type": "question", "question": "Is the fabric knitted?", "question_type": "multiple_choice", "options": ["Knitted"]}`,
			wantErr: "invalid question",
		},
		{
			name:      "json conclusion with codes",
			content:   "```json\n{\"type\": \"conclusion\", \"conclusion\": \"Based on the wireless design, headphones fit best.\", \"codes\": [\"8518.30.20\"]}\n```",
			converged: true,
			wantCodes: []string{"8518.30.20"},
		},
		{
			name:      "json conclusion without codes extracts them",
			content:   `{"type": "conclusion", "conclusion": "Based on canned, codes 2008.30.55 and 2008.30.75 are most relevant."}`,
			converged: true,
			wantCodes: []string{"2008.30.55", "2008.30.75"},
		},
		{
			name:     "marker question after analysis",
			content:  "The candidates differ by material.\n\n**QUESTION:** What is the outer shell made of?",
			wantText: "What is the outer shell made of?",
			wantType: model.QuestionFreeText,
		},
		{
			name:      "marker conclusion",
			content:   "CONCLUSION: Based on \"canned\" in the description, codes 2008.30.55 and 2008.30.55 cover it.",
			converged: true,
			wantCodes: []string{"2008.30.55"},
		},
		{
			name:    "truncated question",
			content: "QUESTION: What is the sugar content",
			wantErr: "truncated",
		},
		{
			name:    "truncated conclusion",
			content: `{"type": "conclusion", "conclusion": "Based on"}`,
			wantErr: "truncated",
		},
		{
			name:    "unknown type",
			content: `{"type": "answer"}`,
			wantErr: "unknown response type",
		},
		{
			name:    "broken json",
			content: `{"type": "question", "question": `,
			wantErr: "failed to parse JSON",
		},
		{
			name:    "free prose",
			content: "I think these are all fine.",
			wantErr: "neither a question nor a conclusion",
		},
		{
			name:    "empty",
			content: "   ",
			wantErr: "empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := parseNextStep(tt.content)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, step.Validate())

			assert.Equal(t, tt.converged, step.Converged())
			if tt.converged {
				assert.Equal(t, tt.wantCodes, step.Convergence.Codes)
				return
			}
			assert.Equal(t, tt.wantText, step.Question.Text)
			assert.Equal(t, tt.wantType, step.Question.Type)
			assert.Equal(t, tt.wantOptions, step.Question.Options)
		})
	}
}

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "plain", content: "pineapple juice beverage", want: "pineapple juice beverage"},
		{name: "quoted with label", content: `Query: "lemon flavored beverage"`, want: "lemon flavored beverage"},
		{name: "extra lines dropped", content: "wireless headphones\nThis targets chapter 85.", want: "wireless headphones"},
		{name: "fenced", content: "```\nknitted cotton t-shirt\n```", want: "knitted cotton t-shirt"},
		{name: "empty", content: `""`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanQuery(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanMarkdownWrapper(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, cleanMarkdownWrapper("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, cleanMarkdownWrapper("  {\"a\": 1}  "))
}

func TestBuildQueryPrompt_MarksIrrelevantResults(t *testing.T) {
	req := queryRequestFixture()
	assert.NotContains(t, buildQueryPrompt(req), "CURRENT SEARCH RESULTS")

	req.Previous = model.Candidates{{Code: "8517.12.00", Description: "Telephones", SimilarityScore: 0.7}}
	assert.Contains(t, buildQueryPrompt(req), "appear to be RELEVANT")

	req.Irrelevant = true
	prompt := buildQueryPrompt(req)
	assert.Contains(t, prompt, "COMPLETELY IRRELEVANT")
	assert.Contains(t, prompt, "- 8517.12.00: Telephones")
	assert.Contains(t, prompt, "Q: Is it carbonated?\nA: no")
}
