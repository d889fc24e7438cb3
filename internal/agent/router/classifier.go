package router

import (
	"regexp"
	"strings"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// Classifier tags a request for cost-optimization routing (spec §4.1,
// cost_optimization.cheap_for / expensive_for). Grounded on
// haasonsaas-nexus/internal/agent/routing/heuristic.go's HeuristicClassifier.
type Classifier interface {
	Classify(req *agent.CompletionRequest) []string
}

var (
	codeRegex   = regexp.MustCompile(`(?i)\b(func|class|def|package|import|select|insert|update|delete)\b`)
	reasonRegex = regexp.MustCompile(`(?i)\b(analyze|reason|think through|derive|prove|why|tradeoff)\b`)
	quickRegex  = regexp.MustCompile(`(?i)\b(what is|define|quick|brief|summary)\b`)
	fenceRegex  = regexp.MustCompile("```")
)

// HeuristicClassifier tags requests using simple content heuristics: "code"
// for code-shaped content, "reasoning" for analytical prompts, "quick" for
// short or definitional prompts.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(req *agent.CompletionRequest) []string {
	content := strings.TrimSpace(lastUserContent(req))
	if content == "" {
		return nil
	}
	lower := strings.ToLower(content)
	var tags []string
	if fenceRegex.MatchString(lower) || codeRegex.MatchString(lower) {
		tags = append(tags, "code")
	}
	if reasonRegex.MatchString(lower) {
		tags = append(tags, "reasoning")
	}
	if quickRegex.MatchString(lower) || len(lower) < 80 {
		tags = append(tags, "quick")
	}
	return tags
}

func lastUserContent(req *agent.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == agent.RoleUser {
			return req.Messages[i].ExtractText()
		}
	}
	return ""
}

func tagsContainAny(tags []string, wanted []string) bool {
	for _, t := range tags {
		for _, w := range wanted {
			if t == w {
				return true
			}
		}
	}
	return false
}
