package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgPkg "github.com/xhad/repochat/pkg/config"
	"github.com/xhad/repochat/pkg/eval"
)

func TestNamespaceFor(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "myrepo")
	require.NoError(t, os.Mkdir(dir, 0o755))

	assert.Equal(t, "acme/api", namespaceFor("acme/api", ""))
	assert.Equal(t, "acme/api", namespaceFor("https://github.com/acme/api.git", ""))
	assert.Equal(t, "myrepo", namespaceFor(dir, ""))
	assert.Equal(t, "custom", namespaceFor("acme/api", "custom"))
}

func TestEvalVariants(t *testing.T) {
	config := &cfgPkg.Config{Engine: cfgPkg.EngineConfig{
		Mode:             cfgPkg.ModeAdaptive,
		InitialThreshold: 60,
		Decrement:        10,
		Reformulations:   5,
	}}

	assert.Equal(t, []eval.Variant{{
		Name: "default", Mode: "adaptive", InitialThreshold: 60, Decrement: 10, Reformulations: 5,
	}}, evalVariants(config))

	yes := true
	config.Eval.Variants = []cfgPkg.VariantConfig{
		{Name: "strict", InitialThreshold: 80},
		{Name: "simple", Mode: cfgPkg.ModeSimple, UpgradeQuery: &yes},
	}
	assert.Equal(t, []eval.Variant{
		{Name: "strict", Mode: "adaptive", InitialThreshold: 80, Decrement: 10, Reformulations: 5},
		{Name: "simple", Mode: "simple", InitialThreshold: 60, Decrement: 10, Reformulations: 5, UpgradeQuery: true},
	}, evalVariants(config))
}

func TestEvalVariantsInheritUpgradeQuery(t *testing.T) {
	no := false
	config := &cfgPkg.Config{
		Engine: cfgPkg.EngineConfig{Mode: cfgPkg.ModeSimple, UpgradeQuery: true},
		Eval: cfgPkg.EvalConfig{Variants: []cfgPkg.VariantConfig{
			{Name: "inherit"},
			{Name: "raw", UpgradeQuery: &no},
		}},
	}

	variants := evalVariants(config)
	require.Len(t, variants, 2)
	assert.True(t, variants[0].UpgradeQuery)
	assert.False(t, variants[1].UpgradeQuery)
}

func TestEvalQueries(t *testing.T) {
	config := &cfgPkg.Config{Eval: cfgPkg.EvalConfig{Queries: []string{"from config"}}}

	t.Cleanup(func() { flagQueriesFile = "" })

	queries, err := evalQueries(nil, config)
	require.NoError(t, err)
	assert.Equal(t, []string{"from config"}, queries)

	path := filepath.Join(t.TempDir(), "queries.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nHow does auth work?\n\n  Where is the config?  \n"), 0o644))
	flagQueriesFile = path

	queries, err = evalQueries([]string{"from args"}, config)
	require.NoError(t, err)
	assert.Equal(t, []string{"from args", "How does auth work?", "Where is the config?"}, queries)

	flagQueriesFile = ""
	_, err = evalQueries(nil, &cfgPkg.Config{})
	assert.Error(t, err)
}
