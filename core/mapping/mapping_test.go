package mapping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/security"
	"github.com/relabs-tech/roa/core/statement"
)

const configurationJSON = `{
	"resources": [
		{
			"type": "/communities",
			"key": "key",
			"fields": [ {"name": "name"} ]
		},
		{
			"type": "/persons",
			"key": "key",
			"fields": [
				{"name": "firstname"},
				{"name": "lastname"},
				{"name": "phone", "onread": "removeifnull"},
				{"name": "password", "write_only": true},
				{"name": "balance", "oninsert": {"value": 0}, "onupdate": "remove"},
				{"name": "settings", "onread": "parse", "oninsert": "stringify", "onupdate": "stringify"},
				{"name": "created", "oninsert": "now", "onupdate": "remove"},
				{"name": "email", "onread": {"transform": "lower"}},
				{"name": "community", "references": "/communities"}
			],
			"query": {
				"communities": {"references": "/communities", "column": "community"},
				"lastname": {"column": "lastname"}
			},
			"cache": {"kind": "local", "ttl": 60},
			"schema": {"type": "object"}
		}
	]
}`

func lower(value interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errors.New("not a string")
	}
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b), nil
}

func loadTestRegistry(t *testing.T, extensions Extensions) *Registry {
	t.Helper()
	if extensions.Transforms == nil {
		extensions.Transforms = map[string]Transform{"lower": {Name: "lower", Func: lower}}
	}
	registry, err := Load([]byte(configurationJSON), extensions)
	if err != nil {
		t.Fatal(err)
	}
	return registry
}

func persons(t *testing.T) *ResourceType {
	rt, ok := loadTestRegistry(t, Extensions{}).Lookup("/persons")
	require.True(t, ok)
	return rt
}

func TestLoad(t *testing.T) {
	allow := func(ctx context.Context, r *security.Request) error { return nil }
	hook := func(ctx context.Context, q csql.Querier, event *MutationEvent) error { return nil }
	registry := loadTestRegistry(t, Extensions{
		Security:    map[string][]security.Predicate{"/persons": {allow, allow}},
		AfterInsert: map[string][]AfterHook{"/persons": {hook}},
		QueryFilters: map[string]map[string]QueryFilter{"/persons": {
			"adults": QueryFilterFunc(func(ctx context.Context, value string, s *statement.Statement) error { return nil }),
		}},
	})
	assert.Equal(t, BatchReverse, registry.BatchOrder)
	require.Len(t, registry.Types(), 2)
	assert.Equal(t, "/communities", registry.Types()[0].Type)

	rt, ok := registry.Lookup("/persons")
	require.True(t, ok)
	assert.Equal(t, "persons", rt.Table)
	assert.Equal(t, "key", rt.Key)
	assert.Len(t, rt.Security, 2)
	assert.Len(t, rt.AfterHooks(core.OperationInsert), 1)
	assert.Empty(t, rt.AfterHooks(core.OperationDelete))
	assert.Equal(t, []string{"key", "firstname", "lastname", "phone", "password", "balance", "settings", "created", "email", "community"}, rt.Columns())
	assert.Equal(t, 60, rt.Cache.TTL)
	assert.NotEmpty(t, rt.Schema)
	assert.Len(t, rt.Query, 3)
	assert.Equal(t, ReferenceFilter{Column: "community", References: "/communities"}, rt.Query["communities"])
	assert.Equal(t, "/persons/P1", rt.Href("P1"))

	f, ok := rt.Field("balance")
	require.True(t, ok)
	assert.Equal(t, SetConstant{Value: float64(0)}, f.Hooks[OnInsert])
	assert.Equal(t, Remove{}, f.Hooks[OnUpdate])

	rt, key, ok := registry.Resolve("/communities/C1")
	require.True(t, ok)
	assert.Equal(t, "/communities", rt.Type)
	assert.Equal(t, "C1", key)
	_, _, ok = registry.Resolve("/unknown/C1")
	assert.False(t, ok)

	communities, _ := registry.Lookup("/communities")
	assert.Equal(t, "communities", communities.Table)
}

func TestLoadInvalid(t *testing.T) {
	invalid := map[string]string{
		"parse":           `{"resources": [`,
		"batch order":     `{"batch_order": "random", "resources": []}`,
		"duplicate type":  `{"resources": [{"type": "/a"}, {"type": "/a"}]}`,
		"type path":       `{"resources": [{"type": "a"}]}`,
		"unknown ref":     `{"resources": [{"type": "/a", "fields": [{"name": "b", "references": "/b"}]}]}`,
		"reserved field":  `{"resources": [{"type": "/a", "fields": [{"name": "href"}]}]}`,
		"key as field":    `{"resources": [{"type": "/a", "fields": [{"name": "guid"}]}]}`,
		"duplicate field": `{"resources": [{"type": "/a", "fields": [{"name": "x"}, {"name": "x"}]}]}`,
		"field name":      `{"resources": [{"type": "/a", "fields": [{"name": "x; drop table a"}]}]}`,
		"unknown hook":    `{"resources": [{"type": "/a", "fields": [{"name": "x", "onread": "explode"}]}]}`,
		"unknown xform":   `{"resources": [{"type": "/a", "fields": [{"name": "x", "onread": {"transform": "nope"}}]}]}`,
		"cache kind":      `{"resources": [{"type": "/a", "cache": {"kind": "memcached"}}]}`,
		"reserved query":  `{"resources": [{"type": "/a", "query": {"limit": {"column": "x"}}}]}`,
		"query ref":       `{"resources": [{"type": "/a", "query": {"b": {"column": "b", "references": "/b"}}}]}`,
	}
	for name, config := range invalid {
		_, err := Load([]byte(config), Extensions{})
		var configErr *core.ConfigurationError
		assert.True(t, errors.As(err, &configErr), name)
	}

	_, err := Load([]byte(`{"resources": [{"type": "/a"}]}`), Extensions{
		Security: map[string][]security.Predicate{"/b": nil},
	})
	assert.Error(t, err)
}

func TestToResource(t *testing.T) {
	rt := persons(t)
	row := csql.Row{
		"key":       "P1",
		"firstname": "Ann",
		"lastname":  "Smith",
		"phone":     nil,
		"password":  "secret",
		"balance":   int64(5),
		"settings":  `{"theme":"dark"}`,
		"created":   "2026-01-01T00:00:00.000Z",
		"email":     "Ann@Example.com",
		"community": "C1",
	}
	resource, err := rt.ToResource(row)
	require.NoError(t, err)

	assert.Equal(t, []string{"firstname", "lastname", "balance", "settings", "created", "email", "community"}, resource.Keys())
	community, _ := resource.Get("community")
	assert.Equal(t, map[string]interface{}{"href": "/communities/C1"}, community)
	settings, _ := resource.Get("settings")
	assert.Equal(t, map[string]interface{}{"theme": "dark"}, settings)
	email, _ := resource.Get("email")
	assert.Equal(t, "ann@example.com", email)
	_, ok := resource.Get("password")
	assert.False(t, ok, "write-only fields are never exposed")

	data, err := json.Marshal(resource)
	require.NoError(t, err)
	assert.Equal(t, `{"firstname":"Ann","lastname":"Smith","balance":5,"settings":{"theme":"dark"},"created":"2026-01-01T00:00:00.000Z","email":"ann@example.com","community":{"href":"/communities/C1"}}`, string(data))
}

func TestWriteOnlyReference(t *testing.T) {
	registry, err := Load([]byte(`{"resources": [
		{"type": "/communities", "fields": [{"name": "name"}]},
		{"type": "/persons", "fields": [
			{"name": "firstname"},
			{"name": "secret", "write_only": true},
			{"name": "community", "references": "/communities", "write_only": true}
		]}
	]}`), Extensions{})
	require.NoError(t, err)
	rt, ok := registry.Lookup("/persons")
	require.True(t, ok)

	resource, err := rt.ToResource(csql.Row{"guid": "P1", "firstname": "Ann", "secret": "x", "community": "C1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"firstname", "community"}, resource.Keys())
	community, _ := resource.Get("community")
	assert.Equal(t, map[string]interface{}{"href": "/communities/C1"}, community)
}

func TestToRow(t *testing.T) {
	rt := persons(t)
	body := map[string]interface{}{
		"firstname": "Ann",
		"community": map[string]interface{}{"href": "/communities/C1"},
		"unmapped":  "ignored",
		"phone":     nil,
	}
	row, err := rt.ToRow(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"firstname", "phone", "community"}, row.Keys())
	community, _ := row.Get("community")
	assert.Equal(t, "C1", community)

	_, err = rt.ToRow(map[string]interface{}{"community": map[string]interface{}{"href": "/persons/P1"}})
	var mismatch *core.ReferenceMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "community", mismatch.Field)

	_, err = rt.ToRow(map[string]interface{}{"community": map[string]interface{}{"name": "x"}})
	var missing *core.MissingReferenceError
	require.True(t, errors.As(err, &missing))

	_, err = rt.ToRow(map[string]interface{}{"community": "C1"})
	require.True(t, errors.As(err, &missing))
}

func TestRoundTrip(t *testing.T) {
	rt := persons(t)
	body := map[string]interface{}{
		"firstname": "Ann",
		"lastname":  "Smith",
		"community": map[string]interface{}{"href": "/communities/C1"},
	}
	row, err := rt.ToRow(body)
	require.NoError(t, err)

	dbRow := csql.Row{"key": "P1"}
	for _, k := range row.Keys() {
		dbRow[k], _ = row.Get(k)
	}
	resource, err := rt.ToResource(dbRow)
	require.NoError(t, err)
	assert.Equal(t, body, resource.Map())
}

func TestApplyHooks(t *testing.T) {
	rt := persons(t)
	now := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	f, _ := rt.Field("created")
	f.Hooks[OnInsert] = SetTimestamp{Now: func() time.Time { return now }}

	row, err := rt.ToRow(map[string]interface{}{
		"firstname": "Ann",
		"balance":   100,
		"settings":  map[string]interface{}{"theme": "dark"},
	})
	require.NoError(t, err)
	require.NoError(t, rt.ApplyHooks(OnInsert, row))
	balance, _ := row.Get("balance")
	assert.Equal(t, float64(0), balance)
	settings, _ := row.Get("settings")
	assert.Equal(t, `{"theme":"dark"}`, settings)
	created, _ := row.Get("created")
	assert.Equal(t, "2026-10-19T08:30:00.000Z", created)

	row, err = rt.ToRow(map[string]interface{}{"firstname": "Ann", "balance": 100, "created": "x"})
	require.NoError(t, err)
	require.NoError(t, rt.ApplyHooks(OnUpdate, row))
	assert.Equal(t, []string{"firstname"}, row.Keys())
}

func TestHandlers(t *testing.T) {
	e := NewElement()
	e.Set("a", nil)
	e.Set("b", "x")
	require.NoError(t, RemoveIfNull{}.Apply("a", e))
	require.NoError(t, RemoveIfNull{}.Apply("b", e))
	require.NoError(t, RemoveIfNull{}.Apply("missing", e))
	assert.Equal(t, []string{"b"}, e.Keys())

	require.NoError(t, Remove{}.Apply("b", e))
	assert.Equal(t, 0, e.Len())

	e.Set("c", "not json")
	assert.Error(t, ParseJSON().Apply("c", e))

	e.Set("d", 3)
	require.NoError(t, ParseJSON().Apply("d", e))
	d, _ := e.Get("d")
	assert.Equal(t, 3, d)

	_, err := ParseHandler(json.RawMessage(`{"value": 1, "other": 2}`), nil)
	assert.Error(t, err)
	_, err = ParseHandler(json.RawMessage(`17`), nil)
	assert.Error(t, err)
}

func TestElement(t *testing.T) {
	e := NewElement()
	e.Set("b", 1)
	e.Set("a", 2)
	e.Set("b", 3)
	assert.Equal(t, []string{"b", "a"}, e.Keys())
	e.Delete("b")
	e.Delete("nothing")
	assert.Equal(t, []string{"a"}, e.Keys())
	data, err := e.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))
	assert.Equal(t, `{}`, func() string { d, _ := NewElement().MarshalJSON(); return string(d) }())

	// element satisfies the statement object contract
	var _ statement.Object = e
}

func TestFilters(t *testing.T) {
	rt := persons(t)
	ctx := context.Background()

	s := statement.New("count").SQL("select count(*) from persons where 1=1")
	require.NoError(t, rt.Query["communities"].Apply(ctx, "/communities/C1", s))
	require.NoError(t, rt.Query["lastname"].Apply(ctx, "Smith,Doe", s))
	assert.Equal(t, "select count(*) from persons where 1=1 and community = $1 and lastname in ($2,$3)", s.Text())
	assert.Equal(t, []interface{}{"C1", "Smith", "Doe"}, s.Values())

	err := rt.Query["communities"].Apply(ctx, "/persons/P1", statement.New("x"))
	var mismatch *core.ReferenceMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestNewKey(t *testing.T) {
	a, b := NewKey(), NewKey()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
