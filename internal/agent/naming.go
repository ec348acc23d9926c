package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/thread"
)

// namingPrompt asks for a delimited title so the answer survives chatty
// models that refuse to reply with the title alone.
const namingPrompt = `Propose a short title (at most six words) for a conversation that starts with the following user messages. Reply with the title wrapped in <title> tags, like <title>Fix login timeout</title>.

%s`

var titlePattern = regexp.MustCompile(`(?s)<title>\s*(.*?)\s*</title>`)

// maxNameSeedMessages bounds how many leading user messages seed the name.
const maxNameSeedMessages = 3

// GenerateThreadName asks the agent's model for a thread title. Any
// failure falls back to a dated placeholder; naming never breaks a run.
// The boolean reports whether the model produced the title, so callers
// can announce renames without announcing the fallback.
func GenerateThreadName(ctx context.Context, ag *Agent, th *thread.Thread, now time.Time) (string, bool) {
	fallback := "Thread " + now.UTC().Format("2006-01-02")

	seeds := th.FirstUserText(maxNameSeedMessages)
	if len(seeds) == 0 {
		return fallback, false
	}

	req := &model.Request{
		Model: ag.Definition().ModelName,
		Messages: []model.Message{{
			Role:    model.RoleUser,
			Content: fmt.Sprintf(namingPrompt, strings.Join(seeds, "\n")),
		}},
		MaxTokens: 100,
	}
	chunks, err := ag.Client().Complete(ctx, req)
	if err != nil {
		return fallback, false
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return fallback, false
		}
		b.WriteString(chunk.Text)
	}

	if name := ExtractTitle(b.String()); name != "" {
		return name, true
	}
	return fallback, false
}

// ExtractTitle pulls the delimited title out of a model reply.
func ExtractTitle(reply string) string {
	m := titlePattern.FindStringSubmatch(reply)
	if m == nil {
		return ""
	}
	title := strings.Join(strings.Fields(m[1]), " ")
	const maxLen = 80
	if len(title) > maxLen {
		title = strings.TrimSpace(title[:maxLen])
	}
	return title
}
