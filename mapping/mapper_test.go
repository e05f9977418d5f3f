package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pipeline"
)

func sampleEnvironment() *aas.Environment {
	return &aas.Environment{
		Shells: []*aas.Shell{{Node: aas.Node{IDShort: "shell"}, ID: "urn:shell:1"}},
		ConceptDescriptions: []*aas.ConceptDescription{
			{Node: aas.Node{IDShort: "cd"}, ID: "urn:cd:1"},
		},
		Submodels: []*aas.Submodel{{
			Node: aas.Node{IDShort: "sm"},
			ID:   "urn:sm:1",
			Elements: []*aas.SubmodelElement{
				{Node: aas.Node{IDShort: "temp"}, Kind: aas.KindProperty},
				{Node: aas.Node{IDShort: "coll"}, Kind: aas.KindCollection, Children: []*aas.SubmodelElement{
					{Node: aas.Node{IDShort: "inner"}, Kind: aas.KindProperty},
					{Node: aas.Node{IDShort: "list"}, Kind: aas.KindList, Children: []*aas.SubmodelElement{
						{Kind: aas.KindProperty},
						{Kind: aas.KindProperty},
					}},
				}},
			},
		}},
	}
}

func mustTree(t *testing.T, r pipeline.Result[*Tree]) *Tree {
	t.Helper()
	require.True(t, r.Succeeded(), "unexpected failure: %v", r.Failure())
	tree, ok := r.Value()
	require.True(t, ok)
	return tree
}

func stableIDs(env *aas.Environment) []string {
	var ids []string
	for _, e := range aas.AllElements(env) {
		ids = append(ids, e.Base().StableID)
	}
	return ids
}

func TestMap_AssignsDescriptors(t *testing.T) {
	svc := aas.NewService("http://aas.example:8080")
	env := sampleEnvironment()

	tree := mustTree(t, NewMapper().Map(&svc, env))
	mapped := tree.Environment

	sm := mapped.Submodels[0]
	assert.Equal(t, "/submodels/"+EncodeID("urn:sm:1"), sm.DataAddress.Path)
	assert.Equal(t, "http://aas.example:8080", sm.SourceURL())
	assert.Equal(t, "GET", sm.DataAddress.Method)
	assert.Equal(t, []aas.Key{{Type: aas.KeySubmodel, Value: "urn:sm:1"}}, sm.ReferenceChain())
	assert.Equal(t, StableID("http://aas.example:8080", sm.DataAddress.Path), sm.StableID)

	flat := aas.AllSubmodelElements(sm)
	require.Len(t, flat, 6)
	prefix := "/submodels/" + EncodeID("urn:sm:1") + "/submodel-elements/"
	assert.Equal(t, prefix+"temp", flat[0].DataAddress.Path)
	assert.Equal(t, prefix+"coll", flat[1].DataAddress.Path)
	assert.Equal(t, prefix+"coll.inner", flat[2].DataAddress.Path)
	assert.Equal(t, prefix+"coll.list", flat[3].DataAddress.Path)
	assert.Equal(t, prefix+"coll.list[0]", flat[4].DataAddress.Path)
	assert.Equal(t, prefix+"coll.list[1]", flat[5].DataAddress.Path)
	assert.Equal(t, []aas.Key{
		{Type: aas.KeySubmodel, Value: "urn:sm:1"},
		{Type: aas.KeySubmodelElement, Value: "coll"},
		{Type: aas.KeySubmodelElement, Value: "list"},
		{Type: aas.KeySubmodelElement, Value: "1"},
	}, flat[5].ReferenceChain())

	assert.Equal(t, "/shells/"+EncodeID("urn:shell:1"), mapped.Shells[0].DataAddress.Path)
	assert.Equal(t, "/concept-descriptions/"+EncodeID("urn:cd:1"), mapped.ConceptDescriptions[0].DataAddress.Path)

	seen := map[string]bool{}
	for _, id := range stableIDs(mapped) {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate stable id %s", id)
		seen[id] = true
	}

	assert.Empty(t, env.Submodels[0].StableID, "input environment must not be modified")
}

func TestMap_Idempotent(t *testing.T) {
	svc := aas.NewService("http://aas.example:8080")
	m := NewMapper()

	first := mustTree(t, m.Map(&svc, sampleEnvironment()))
	second := mustTree(t, m.Map(&svc, sampleEnvironment()))

	assert.Equal(t, stableIDs(first.Environment), stableIDs(second.Environment))

	other := aas.NewService("http://other.example:8080")
	third := mustTree(t, m.Map(&other, sampleEnvironment()))
	assert.NotEqual(t, stableIDs(first.Environment)[0], stableIDs(third.Environment)[0])
}

func TestMap_Failures(t *testing.T) {
	m := NewMapper()

	t.Run("nil service is fatal", func(t *testing.T) {
		r := m.Map(nil, sampleEnvironment())
		require.True(t, r.Failed())
		assert.Equal(t, pipeline.Fatal, r.Severity())
	})

	t.Run("empty access url is fatal", func(t *testing.T) {
		svc := aas.NewService("")
		r := m.Map(&svc, sampleEnvironment())
		require.True(t, r.Failed())
		assert.Equal(t, pipeline.Fatal, r.Severity())
	})

	t.Run("nil environment is a recoverable warning", func(t *testing.T) {
		svc := aas.NewService("http://aas.example")
		r := m.Map(&svc, nil)
		require.True(t, r.Recoverable())
		assert.Equal(t, pipeline.Warning, r.Severity())
		tree, ok := r.Value()
		require.True(t, ok)
		assert.True(t, tree.Service.Equal(svc))
		assert.Nil(t, tree.Environment)
	})

	t.Run("malformed submodels url is a warning without value", func(t *testing.T) {
		svc := aas.NewService("http://aas.example", aas.WithSubmodelsPath("/%zz"))
		r := m.Map(&svc, sampleEnvironment())
		require.True(t, r.Failed())
		assert.Equal(t, pipeline.Warning, r.Severity())
	})

	t.Run("malformed shells url keeps submodels", func(t *testing.T) {
		svc := aas.NewService("http://aas.example", aas.WithShellsPath("/%zz"))
		r := m.Map(&svc, sampleEnvironment())
		require.True(t, r.Recoverable())
		assert.Equal(t, pipeline.Warning, r.Severity())

		tree, ok := r.Value()
		require.True(t, ok)
		assert.Len(t, tree.Environment.Submodels, 1)
		assert.Empty(t, tree.Environment.Shells)
		assert.Empty(t, tree.Environment.ConceptDescriptions)
	})
}

func TestMap_OnlySubmodels(t *testing.T) {
	svc := aas.NewService("http://aas.example", aas.WithShellsPath("/%zz"))

	tree := mustTree(t, NewMapper(WithOnlySubmodels(true)).Map(&svc, sampleEnvironment()))

	assert.Empty(t, tree.Environment.Shells)
	assert.Empty(t, tree.Environment.ConceptDescriptions)
	require.Len(t, tree.Environment.Submodels, 1)
	assert.Empty(t, tree.Environment.Submodels[0].Elements)
	assert.NotEmpty(t, tree.Environment.Submodels[0].StableID)
}

func TestMapAll(t *testing.T) {
	good := aas.NewService("http://a.example")
	empty := aas.NewService("http://b.example")
	m := NewMapper()

	t.Run("warnings do not block other services", func(t *testing.T) {
		r := m.MapAll([]Fetched{
			{Service: &good, Environment: sampleEnvironment()},
			{Service: &empty, Environment: nil},
		})
		require.True(t, r.Recoverable())
		trees, ok := r.Value()
		require.True(t, ok)
		require.Len(t, trees, 2)
		assert.NotNil(t, trees[0].Environment)
		assert.Nil(t, trees[1].Environment)
		assert.Len(t, r.Messages(), 1)
	})

	t.Run("fatal fails the aggregate", func(t *testing.T) {
		r := m.MapAll([]Fetched{
			{Service: &good, Environment: sampleEnvironment()},
			{Service: nil, Environment: sampleEnvironment()},
		})
		assert.True(t, r.Failed())
		assert.Equal(t, pipeline.Fatal, r.Severity())
	})
}
