package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/repochat/pkg/llm"
)

func TestDefaultPromptsRender(t *testing.T) {
	p, err := llm.NewPrompts(nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		llm.PromptContextValidator,
		llm.PromptCritic,
		llm.PromptRunQueryRAG,
		llm.PromptUpgradeQuery,
	}, p.Names())

	out, err := p.Render(llm.PromptContextValidator, map[string]any{
		"query":             "Where is login handled?",
		"similar_documents": "Source: auth.py\ndef login(): ...",
		"repo":              "acme/api",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "(acme/api)")
	assert.Contains(t, out, "Where is login handled?")
	assert.Contains(t, out, "def login(): ...")
}

func TestRenderMissingVariable(t *testing.T) {
	p, err := llm.NewPrompts(nil)
	require.NoError(t, err)

	_, err = p.Render(llm.PromptCritic, map[string]any{"query": "q", "repo": "r"})
	assert.ErrorIs(t, err, llm.ErrTemplate)

	_, err = p.Render("nope", map[string]any{})
	assert.ErrorIs(t, err, llm.ErrTemplate)
}

func TestOverrideValidation(t *testing.T) {
	tests := []struct {
		name    string
		spec    llm.PromptSpec
		wantErr bool
	}{
		{
			name: "valid override",
			spec: llm.PromptSpec{
				InputVariables: []string{"query", "response", "repo"},
				Template:       "{{.repo}}: {{ .query }} -> {{.response}}",
			},
		},
		{
			name: "undeclared placeholder",
			spec: llm.PromptSpec{
				InputVariables: []string{"query"},
				Template:       "{{.query}} {{.answer}}",
			},
			wantErr: true,
		},
		{
			name:    "empty template",
			spec:    llm.PromptSpec{InputVariables: []string{"query"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := llm.NewPrompts(map[string]llm.PromptSpec{llm.PromptCritic: tt.spec})
			if tt.wantErr {
				assert.ErrorIs(t, err, llm.ErrTemplate)
				return
			}
			require.NoError(t, err)
			out, err := p.Render(llm.PromptCritic, map[string]any{"query": "q", "response": "a", "repo": "r"})
			require.NoError(t, err)
			assert.Equal(t, "r: q -> a", out)
		})
	}
}
