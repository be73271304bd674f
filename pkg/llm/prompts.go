package llm

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/tmc/langchaingo/prompts"
)

// Prompt names.
const (
	PromptUpgradeQuery     = "upgrade_query"
	PromptRunQueryRAG      = "run_query_rag"
	PromptContextValidator = "context_validator"
	PromptCritic           = "critic"
)

// ErrTemplate marks a prompt that is unknown, badly formed or rendered with
// a missing variable.
var ErrTemplate = errors.New("template error")

var placeholderRe = regexp.MustCompile(`\{\{\s*\.(\w+)\s*\}\}`)

// PromptSpec is a template plus the variables it is allowed to reference.
type PromptSpec struct {
	InputVariables []string
	Template       string
}

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() map[string]PromptSpec {
	return map[string]PromptSpec{
		PromptUpgradeQuery: {
			InputVariables: []string{"query", "repo"},
			Template: `In the context of the github repository ({{.repo}}), a user has submitted the following query:
{{.query}}

Documents will be retrieved from the repository to answer it. Similarity alone is not enough: the retrieved documents must be relevant and help answer the query.
Rewrite and expand the query so retrieval returns better documents. Consider the user's intent and the nature of the code repository. Split the question into narrower queries where that helps. Minimize tokens.
Give exactly 5 unique revised queries, one per line, numbered 1 to 5.`,
		},
		PromptRunQueryRAG: {
			InputVariables: []string{"query", "similar_documents", "repo"},
			Template: `You are an expert software engineering assistant. In the context of the github repository ({{.repo}}), a user has submitted the following query:
{{.query}}

These documents were retrieved from the repository because they may be relevant:
{{.similar_documents}}

Using the query and these documents, give the most accurate and relevant answer you can. You may infer what the documents do not state outright. Be concise, answer in markdown and paraphrase to save tokens.`,
		},
		PromptContextValidator: {
			InputVariables: []string{"query", "similar_documents", "repo"},
			Template: `You are an expert software engineering assistant. In the context of the github repository ({{.repo}}), a user has submitted the following query:
{{.query}}

These documents were retrieved from the repository because they may be relevant:
{{.similar_documents}}

How sufficient is this context for answering the query? Reply with a single integer from 0 (the documents contain nothing useful) to 100 (the documents contain everything needed). Nothing else.`,
		},
		PromptCritic: {
			InputVariables: []string{"query", "response", "repo"},
			Template: `In the context of the github repository ({{.repo}}), a user has submitted the following query:
{{.query}}

This response was generated:
{{.response}}

Does the response answer the query about this repository? Score it from 0 (irrelevant or wrong) to 100 (fully helpful). Return the integer only, with no words.`,
		},
	}
}

// Prompts is a validated set of named templates.
type Prompts struct {
	templates map[string]prompts.PromptTemplate
	specs     map[string]PromptSpec
}

// NewPrompts validates the built-in prompts merged with overrides. A template
// that references a variable it does not declare is rejected here rather than
// at render time.
func NewPrompts(overrides map[string]PromptSpec) (*Prompts, error) {
	specs := DefaultPrompts()
	for name, spec := range overrides {
		specs[name] = spec
	}

	p := &Prompts{
		templates: make(map[string]prompts.PromptTemplate, len(specs)),
		specs:     specs,
	}
	for _, name := range sortedNames(specs) {
		spec := specs[name]
		if spec.Template == "" {
			return nil, fmt.Errorf("%w: prompt %s has an empty template", ErrTemplate, name)
		}
		declared := make(map[string]bool, len(spec.InputVariables))
		for _, v := range spec.InputVariables {
			declared[v] = true
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(spec.Template, -1) {
			if !declared[m[1]] {
				return nil, fmt.Errorf("%w: prompt %s references undeclared variable %s", ErrTemplate, name, m[1])
			}
		}
		p.templates[name] = prompts.NewPromptTemplate(spec.Template, spec.InputVariables)
	}
	return p, nil
}

// Render fills the named template. Every declared variable must be present.
func (p *Prompts) Render(name string, vars map[string]any) (string, error) {
	tmpl, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown prompt %s", ErrTemplate, name)
	}
	for _, v := range p.specs[name].InputVariables {
		if _, ok := vars[v]; !ok {
			return "", fmt.Errorf("%w: prompt %s missing variable %s", ErrTemplate, name, v)
		}
	}
	out, err := tmpl.Format(vars)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	return out, nil
}

// Names lists the registered prompts in sorted order.
func (p *Prompts) Names() []string {
	return sortedNames(p.specs)
}

func sortedNames(specs map[string]PromptSpec) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
