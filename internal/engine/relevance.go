package engine

import (
	"slices"
	"strings"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

const relevanceWindow = 3

type chapterRule struct {
	name     string
	keywords []string
	chapters []string
}

// Ordered: the first rule whose keyword appears in the description decides the expected chapters.
var chapterRules = []chapterRule{
	{name: "food_beverage", keywords: []string{"juice", "drink", "beverage", "lemonade", "soda", "water", "coffee", "tea"}, chapters: []string{"20", "21", "22"}},
	{name: "electronics", keywords: []string{"phone", "computer", "device", "electronic"}, chapters: []string{"85", "90", "84"}},
	{name: "clothing", keywords: []string{"shirt", "pants", "clothing", "apparel"}, chapters: []string{"61", "62", "63"}},
	{name: "chemicals", keywords: []string{"chemical", "acid", "compound"}, chapters: []string{"28", "29", "30"}},
}

// CandidatesRelevant is a coarse sanity check that the leading candidates sit in an HS
// chapter the product description implies. Descriptions matching no rule are assumed
// relevant; an empty candidate set never is.
func CandidatesRelevant(description string, candidates model.Candidates) bool {
	if len(candidates) == 0 {
		return false
	}

	expected := expectedChapters(description)
	if expected == nil {
		return true
	}

	for _, c := range candidates.TopN(relevanceWindow) {
		if slices.Contains(expected, c.Chapter()) {
			return true
		}
	}
	return false
}

func expectedChapters(description string) []string {
	lower := strings.ToLower(description)
	for _, rule := range chapterRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.chapters
			}
		}
	}
	return nil
}

type sectionRange struct {
	label    string
	from, to int
}

var hsSections = []sectionRange{
	{label: "Animal Products", from: 1, to: 5},
	{label: "Vegetable Products", from: 6, to: 14},
	{label: "Fats & Oils", from: 15, to: 15},
	{label: "Food & Beverages", from: 16, to: 24},
	{label: "Mineral Products", from: 25, to: 27},
	{label: "Chemicals", from: 28, to: 38},
	{label: "Plastics & Rubber", from: 39, to: 40},
	{label: "Leather Goods", from: 41, to: 43},
	{label: "Wood Products", from: 44, to: 46},
	{label: "Paper Products", from: 47, to: 49},
	{label: "Textiles & Apparel", from: 50, to: 63},
	{label: "Footwear & Headgear", from: 64, to: 67},
	{label: "Stone, Ceramic & Glass", from: 68, to: 70},
	{label: "Jewelry & Precious Metals", from: 71, to: 71},
	{label: "Base Metals", from: 72, to: 83},
	{label: "Machinery & Electronics", from: 84, to: 85},
	{label: "Vehicles & Transport", from: 86, to: 89},
	{label: "Instruments & Optics", from: 90, to: 92},
	{label: "Arms & Ammunition", from: 93, to: 93},
	{label: "Miscellaneous Manufactured", from: 94, to: 96},
	{label: "Works of Art", from: 97, to: 97},
}

// CategoryForCode names the HS section a code's chapter belongs to.
func CategoryForCode(code string) string {
	c := model.Candidate{Code: code}
	chapter := c.Chapter()
	if len(chapter) != 2 || chapter[0] < '0' || chapter[0] > '9' || chapter[1] < '0' || chapter[1] > '9' {
		return "Uncategorized"
	}

	n := int(chapter[0]-'0')*10 + int(chapter[1]-'0')
	for _, s := range hsSections {
		if n >= s.from && n <= s.to {
			return s.label
		}
	}
	return "Uncategorized"
}
