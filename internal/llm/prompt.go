package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

const (
	promptCandidateLimit = 10
	queryCandidateLimit  = 5
)

const questionSystemPrompt = `You are an expert in Harmonized System (HS) customs classification. You help a trader narrow a list of candidate HS codes by asking one discriminating question at a time.
You MUST respond with ONLY a valid JSON object. Do not include any explanatory text, markdown formatting, or commentary before or after the JSON. Start your response directly with { and end with }.`

const querySystemPrompt = `You write semantic search queries for an HS code search index. You respond with the query text only: no quotes, no labels, no explanation.`

func formatHistory(history []model.QAPair) string {
	if len(history) == 0 {
		return "None"
	}
	var sb strings.Builder
	for i, qa := range history {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Q: %s\nA: %s", qa.Question, qa.Answer)
	}
	return sb.String()
}

func formatCandidates(candidates model.Candidates, limit int, withScores bool) string {
	if len(candidates) == 0 {
		return "None"
	}
	var sb strings.Builder
	for i, c := range candidates.TopN(limit) {
		if i > 0 {
			sb.WriteString("\n")
		}
		if withScores {
			fmt.Fprintf(&sb, "- %s: %s (similarity: %.2f)", c.Code, c.Description, c.SimilarityScore)
		} else {
			fmt.Fprintf(&sb, "- %s: %s", c.Code, c.Description)
		}
	}
	return sb.String()
}

func buildQuestionPrompt(description string, history []model.QAPair, candidates model.Candidates) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "PRODUCT DESCRIPTION: %s\n\n", description)
	fmt.Fprintf(&sb, "PREVIOUS QUESTIONS AND ANSWERS:\n%s\n\n", formatHistory(history))
	fmt.Fprintf(&sb, "CURRENT TOP HS CODE CANDIDATES:\n%s\n\n", formatCandidates(candidates, promptCandidateLimit, true))

	sb.WriteString(`Work out what the description and previous answers already establish, then compare the candidates and find the property that separates them.
Do not ask about anything already answered.

If a question would narrow the candidates, respond with:
{"type": "question", "question": "<one specific question ending with ?>", "question_type": "free_text" or "multiple_choice", "options": ["<option>", ...]}
Only include options for multiple_choice questions, with at least two of them.

If the answer is already clear, respond with:
{"type": "conclusion", "conclusion": "Based on <brief reason>, the most likely codes are <2-3 codes>", "codes": ["<code>", ...]}

Examples:
{"type": "question", "question": "What is the sugar content percentage of the preserved mandarins?", "question_type": "free_text"}
{"type": "question", "question": "Is the fabric knitted or woven?", "question_type": "multiple_choice", "options": ["Knitted", "Woven"]}
{"type": "conclusion", "conclusion": "Based on \"canned\" in the description, codes 2008.30.55 and 2008.30.75 cover preserved mandarins.", "codes": ["2008.30.55", "2008.30.75"]}`)

	return sb.String()
}

func buildQueryPrompt(req service.QueryRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ORIGINAL PRODUCT: %s\n\n", req.Description)
	fmt.Fprintf(&sb, "PREVIOUS Q&A:\n%s\n\n", formatHistory(req.History))

	if len(req.Previous) > 0 {
		verdict := "RELEVANT"
		if req.Irrelevant {
			verdict = "COMPLETELY IRRELEVANT"
		}
		fmt.Fprintf(&sb, "CURRENT SEARCH RESULTS:\n%s\n\nThese results appear to be %s to the product.\n\n",
			formatCandidates(req.Previous, queryCandidateLimit, false), verdict)
	}

	sb.WriteString(`Write the best semantic search query for finding the HS codes of this product.

Rules:
1. Describe the product itself, not its packaging or container.
2. Use trade and customs terminology.
3. If the current results are irrelevant, write a completely different query.
4. Ignore answers that are noise and keep the real product intent.
5. For beverages in containers, describe the beverage.

Examples:
- "lemonade in glass bottle" -> lemon flavored beverage
- "organic pineapple juice plastic bottle" -> pineapple juice beverage
- "hello world test" followed by "organic pineapple juice" -> pineapple fruit juice`)

	return sb.String()
}
