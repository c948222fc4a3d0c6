package service

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"unicode"

	"github.com/Strob0t/arbiter/internal/domain/decision"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// promptTemplates holds the advisory prompt and its per-role focus block.
var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// maxContextChars bounds how much request context is embedded in a prompt.
const maxContextChars = 8000

// advisoryPromptData carries one subtask's inputs into the prompt template.
type advisoryPromptData struct {
	Role      string
	RequestID string
	Title     string
	RiskScore float64
	Context   string
}

// BuildPrompt renders the role-specific advisory prompt for req.
func BuildPrompt(req *decision.Request, role decision.Role) (string, error) {
	data := advisoryPromptData{
		Role:      sanitizePromptInput(string(role)),
		RequestID: req.ID,
		Title:     sanitizePromptInput(req.Title),
		RiskScore: req.RiskScore,
	}
	if len(req.Context) > 0 {
		ctx := string(req.Context)
		if len(ctx) > maxContextChars {
			ctx = ctx[:maxContextChars] + "..."
		}
		data.Context = sanitizePromptInput(ctx)
	}

	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, "advisory", data); err != nil {
		return "", fmt.Errorf("render prompt for %s: %w", role, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// sanitizePromptInput strips control characters and role-override markers
// from caller-supplied text before it is embedded in a prompt.
func sanitizePromptInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		if hasRoleMarker(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

var roleMarkers = []string{
	"system:", "assistant:", "user:", "[system]", "[assistant]",
	"<|system|>", "<|assistant|>", "<|im_start|>",
	"### system", "### assistant", "### instruction",
}

func hasRoleMarker(line string) bool {
	for _, prefix := range roleMarkers {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
