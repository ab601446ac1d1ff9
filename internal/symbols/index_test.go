package symbols

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(files map[string]string, order ...string) *Index {
	b := NewBuilder()
	for _, p := range order {
		b.Add(p, Extract(files[p]))
	}
	return b.Index()
}

func TestIndexMergesLocations(t *testing.T) {
	files := map[string]string{
		"/proj/modules/geo/a.jai": "namespace Geo\nfunc area()\n",
		"/proj/modules/geo/b.jai": "\nnamespace Geo\nclass Shape\n",
	}
	idx := buildIndex(files, "/proj/modules/geo/a.jai", "/proj/modules/geo/b.jai")

	e, ok := idx.Lookup("Geo")
	require.True(t, ok)
	assert.Equal(t, Namespace, e.Kind)
	assert.Equal(t, []Location{
		{Path: "/proj/modules/geo/a.jai", Line: 0, Column: 10},
		{Path: "/proj/modules/geo/b.jai", Line: 1, Column: 10},
	}, e.Locations)

	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []string{"Geo", "Shape", "area"}, idx.Names())
}

func TestIndexKindFromFirstDefinition(t *testing.T) {
	files := map[string]string{
		"/a.jai": "class Thing\n",
		"/b.jai": "func Thing()\n",
	}
	idx := buildIndex(files, "/a.jai", "/b.jai")

	e, ok := idx.Lookup("Thing")
	require.True(t, ok)
	assert.Equal(t, Type, e.Kind)
	assert.Len(t, e.Locations, 2)
}

func TestLookupReturnsCopy(t *testing.T) {
	idx := buildIndex(map[string]string{"/a.jai": "func f()\n"}, "/a.jai")

	e, _ := idx.Lookup("f")
	e.Locations[0].Line = 42

	again, _ := idx.Lookup("f")
	assert.Equal(t, 0, again.Locations[0].Line)
}

func TestLookupExactOnly(t *testing.T) {
	idx := buildIndex(map[string]string{"/a.jai": "func Vector()\n"}, "/a.jai")

	_, ok := idx.Lookup("vector")
	assert.False(t, ok)
	_, ok = idx.Lookup("Vec")
	assert.False(t, ok)
}

func TestComplete(t *testing.T) {
	idx := buildIndex(map[string]string{
		"/a.jai": "func add()\nfunc addAll()\nclass Adder\nfunc sub()\n",
	}, "/a.jai")

	got, ok := idx.Complete("add")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "add", got[0].Name)
	assert.Equal(t, "addAll", got[1].Name)
	assert.Equal(t, Location{Path: "/a.jai", Line: 1, Column: 5}, got[1].Location)

	_, ok = idx.Complete("mul")
	assert.False(t, ok)

	all, ok := idx.Complete("")
	require.True(t, ok)
	assert.Len(t, all, 4)
}

func TestCompleteCapped(t *testing.T) {
	var text string
	for i := 0; i < MaxCompletions+100; i++ {
		text += fmt.Sprintf("func fn%04d()\n", i)
	}
	idx := buildIndex(map[string]string{"/big.jai": text}, "/big.jai")

	got, ok := idx.Complete("fn")
	require.True(t, ok)
	assert.Len(t, got, MaxCompletions)
	assert.Equal(t, "fn0000", got[0].Name)
}

func TestCompleteEmptyIndex(t *testing.T) {
	got, ok := Empty().Complete("")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestResolve(t *testing.T) {
	idx := buildIndex(map[string]string{
		"/lib/std.jai":  "func print_line(s)\n",
		"/mod/vec.jai":  "func Add(a, b)\n",
		"/mod/vec2.jai": "func Add(x)\n",
	}, "/lib/std.jai", "/mod/vec.jai", "/mod/vec2.jai")

	t.Run("from index", func(t *testing.T) {
		locs, ok := idx.Resolve("Add", "import modules/vec\nAdd(1, 2)\n", "/main.jai")
		require.True(t, ok)
		assert.Equal(t, []Location{
			{Path: "/mod/vec.jai", Line: 0, Column: 5},
			{Path: "/mod/vec2.jai", Line: 0, Column: 5},
		}, locs)
	})

	t.Run("local shadows index", func(t *testing.T) {
		text := "Add(1, 2)\n\nfunc Add(p, q)\n"
		locs, ok := idx.Resolve("Add", text, "/main.jai")
		require.True(t, ok)
		assert.Equal(t, []Location{{Path: "/main.jai", Line: 2, Column: 5}}, locs)
	})

	t.Run("local only", func(t *testing.T) {
		locs, ok := idx.Resolve("helper", "class helper\n", "/main.jai")
		require.True(t, ok)
		assert.Equal(t, []Location{{Path: "/main.jai", Line: 0, Column: 6}}, locs)
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := idx.Resolve("Missing", "print 1\n", "/main.jai")
		assert.False(t, ok)
	})

	t.Run("empty word", func(t *testing.T) {
		_, ok := idx.Resolve("", "func x()\n", "/main.jai")
		assert.False(t, ok)
	})
}

func TestEach(t *testing.T) {
	idx := buildIndex(map[string]string{"/a.jai": "func b()\nfunc a()\n"}, "/a.jai")

	var names []string
	idx.Each(func(name string, e Entry) {
		names = append(names, name)
		assert.Equal(t, Function, e.Kind)
	})
	assert.Equal(t, []string{"a", "b"}, names)
}
