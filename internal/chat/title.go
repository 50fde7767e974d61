package chat

import "strings"

// DefaultTitle is the placeholder for a chat that has not earned a title yet.
const DefaultTitle = "New chat"

// titleBudget is the maximum title length in runes before truncation.
const titleBudget = 40

// SuggestTitle derives a short chat title from the first user message:
// whitespace runs collapse to single spaces, and anything over the budget is
// truncated with a trailing ellipsis.
func SuggestTitle(firstUserMessage string) string {
	cleaned := strings.Join(strings.Fields(firstUserMessage), " ")
	if cleaned == "" {
		return DefaultTitle
	}
	runes := []rune(cleaned)
	if len(runes) <= titleBudget {
		return cleaned
	}
	return string(runes[:titleBudget]) + "…"
}
