// Package prompt assembles the message list sent to the dispatcher: an
// optional system message rendered from a business profile, a bounded
// window of conversation history, then the new user message.
package prompt

import (
	"fmt"
	"strings"

	"contxtd/internal/providers"
	"contxtd/internal/storage"
)

// maxHistoryTurns bounds how much prior conversation is replayed to the
// provider on each call.
const maxHistoryTurns = 10

const notSpecified = "Not specified"

func orFallback(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSpecified
	}
	return s
}

func listOrFallback(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return notSpecified
	}
	return strings.Join(kept, ", ")
}

func avatarsOrFallback(avatars []storage.Avatar) string {
	kept := make([]string, 0, len(avatars))
	for _, a := range avatars {
		name := strings.TrimSpace(a.Name)
		summary := strings.TrimSpace(a.Summary)
		switch {
		case name != "" && summary != "":
			kept = append(kept, fmt.Sprintf("%s (%s)", name, summary))
		case name != "":
			kept = append(kept, name)
		case summary != "":
			kept = append(kept, summary)
		}
	}
	if len(kept) == 0 {
		return notSpecified
	}
	return strings.Join(kept, "; ")
}

// SystemMessage renders the deterministic profile template. Every field
// slot is filled, empty fields with the literal fallback text.
func SystemMessage(p storage.Profile) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant helping with marketing and business content for the following business.\n\n")
	fmt.Fprintf(&b, "Business name: %s\n", orFallback(p.BusinessName))
	fmt.Fprintf(&b, "Website: %s\n", orFallback(p.Website))
	fmt.Fprintf(&b, "Niche: %s\n", orFallback(p.Niche))
	fmt.Fprintf(&b, "Target audience: %s\n", orFallback(p.Audience))
	fmt.Fprintf(&b, "Main offer: %s\n", orFallback(p.Offer))
	fmt.Fprintf(&b, "Brand tone: %s\n", orFallback(p.Tone))
	fmt.Fprintf(&b, "Words to avoid: %s\n", listOrFallback(p.ForbiddenWords))
	fmt.Fprintf(&b, "Product features: %s\n", listOrFallback(p.Features))
	fmt.Fprintf(&b, "Customer avatars: %s\n", avatarsOrFallback(p.Avatars))
	fmt.Fprintf(&b, "Marketing goals: %s\n", listOrFallback(p.Goals))
	b.WriteString("\nStay consistent with the business context above in every reply.")
	return b.String()
}

// BuildMessages produces the normalized message list for one chat call.
// A nil profile omits the system message. History beyond the last
// maxHistoryTurns turns is dropped.
func BuildMessages(profile *storage.Profile, history []providers.Message, userText string) []providers.Message {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	out := make([]providers.Message, 0, len(history)+2)
	if profile != nil {
		out = append(out, providers.Message{Role: providers.RoleSystem, Content: SystemMessage(*profile)})
	}
	out = append(out, history...)
	out = append(out, providers.Message{Role: providers.RoleUser, Content: userText})
	return out
}
