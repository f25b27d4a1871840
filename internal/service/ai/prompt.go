package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

// noArticlesContext fills the context slot when retrieval found nothing.
const noArticlesContext = "(no related articles found)"

// PromptTemplate holds the building blocks of the assistant's system prompt.
type PromptTemplate struct {
	Role     string
	Rules    []string
	Fallback string
}

// DefaultPromptTemplate returns the news assistant persona.
func DefaultPromptTemplate() PromptTemplate {
	return PromptTemplate{
		Role: "You are a news assistant. You answer questions about current events clearly and concisely.",
		Rules: []string{
			"Answer in the language the user writes in",
			"Prefer facts from the conversation and cited articles over general knowledge",
			"Name your sources when an article is mentioned",
			"Keep answers under five short paragraphs unless asked for more",
		},
		Fallback: "If you don't know the answer, say you don't know based on current news.",
	}
}

// BuildSystemPrompt renders the template for the given moment.
func (t PromptTemplate) BuildSystemPrompt(now time.Time) string {
	var builder strings.Builder
	builder.WriteString(t.Role)
	builder.WriteString("\n\nToday is ")
	builder.WriteString(now.UTC().Format("Monday, 2 January 2006"))
	builder.WriteString(".")

	if len(t.Rules) > 0 {
		builder.WriteString("\n\nRules:")
		for _, rule := range t.Rules {
			fmt.Fprintf(&builder, "\n- %s", rule)
		}
	}

	if t.Fallback != "" {
		builder.WriteString("\n\n")
		builder.WriteString(t.Fallback)
	}
	return builder.String()
}

// BuildArticleContext renders retrieved articles as a numbered list for the prompt.
func BuildArticleContext(articles []chat.Article) string {
	if len(articles) == 0 {
		return noArticlesContext
	}

	var builder strings.Builder
	for i, article := range articles {
		if i > 0 {
			builder.WriteString("\n")
		}
		fmt.Fprintf(&builder, "%d. %s", i+1, article.Title)
		if article.PublishedDate != "" {
			fmt.Fprintf(&builder, " (%s)", article.PublishedDate)
		}
		if snippet := strings.TrimSpace(article.Snippet); snippet != "" {
			fmt.Fprintf(&builder, "\n   %s", snippet)
		}
		if article.URL != "" {
			fmt.Fprintf(&builder, "\n   Source: %s", article.URL)
		}
	}
	return builder.String()
}
