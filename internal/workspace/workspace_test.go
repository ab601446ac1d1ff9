package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaithonls/internal/config"
)

// writeTree creates files (slash-separated paths) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func relPaths(t *testing.T, root string, files []File) []string {
	t.Helper()
	var out []string
	for _, f := range files {
		rel, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestRel(t *testing.T) {
	roots := []string{"/proj/a", "/proj"}

	tests := []struct {
		path     string
		wantRel  string
		wantRoot string
		wantOK   bool
	}{
		{"/proj/a/x.jai", "x.jai", "/proj/a", true},
		{"/proj/b/y.jai", filepath.Join("b", "y.jai"), "/proj", true},
		{"/proj/..hidden/z.jai", filepath.Join("..hidden", "z.jai"), "/proj", true},
		{"/elsewhere/z.jai", "/elsewhere/z.jai", "", false},
		{"/proj", "/proj", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rel, root, ok := Rel(roots, tt.path)
			assert.Equal(t, tt.wantRel, rel)
			assert.Equal(t, tt.wantRoot, root)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestFindFilesNoRoots(t *testing.T) {
	w := New(nil)
	files, err := w.FindFiles(context.Background(), []string{"**/*.jai"}, "")
	assert.ErrorIs(t, err, ErrNoRoots)
	assert.Nil(t, files)
}

func TestFindFilesOrderAndExclude(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"lib/std.jai":                     "",
		"lib/modules/io.jai":              "",
		"modules/math/vec.jai":            "",
		"modules/math/notes.txt":          "",
		"modules/build/generated.jai":     "",
		"modules/node_modules/dep/x.jai":  "",
		"modules/__jaicache__/cached.jai": "",
		"other/ignored_by_pattern.jai":    "",
	})

	w := New(nil)
	w.SetRoots([]string{root})

	s := config.Default()
	files, err := w.FindFiles(context.Background(), s.Index.Include, s.Exclude)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"lib/std.jai",
		"lib/modules/io.jai",
		"modules/math/vec.jai",
	}, relPaths(t, root, files))
	assert.Equal(t, "lib", files[0].Base)
	assert.Equal(t, "lib/modules", files[1].Base)
	assert.Equal(t, "modules", files[2].Base)
}

func TestFindFilesOverlappingPatternsKeepDuplicates(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"modules/a.jai": ""})

	w := New(nil)
	w.SetRoots([]string{root})

	files, err := w.FindFiles(context.Background(), []string{"modules/*.jai", "**/*.jai"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"modules/a.jai", "modules/a.jai"}, relPaths(t, root, files))
}

func TestFindFilesAcrossRoots(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeTree(t, first, map[string]string{"modules/a.jai": ""})
	writeTree(t, second, map[string]string{"modules/b.jai": ""})

	w := New(nil)
	w.SetRoots([]string{first, second})

	files, err := w.ModuleFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, first, files[0].Root)
	assert.Equal(t, second, files[1].Root)
}

func TestFindFilesRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":            "modules/scratch/\n# comment\n",
		"modules/keep.jai":      "",
		"modules/scratch/x.jai": "",
	})

	w := New(nil)
	w.SetRoots([]string{root})

	files, err := w.ModuleFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"modules/keep.jai"}, relPaths(t, root, files))

	s := config.Default()
	s.RespectGitignore = false
	w.SetSettings(s)

	files, err = w.ModuleFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindFilesCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"modules/a.jai": ""})

	w := New(nil)
	w.SetRoots([]string{root})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.ModuleFiles(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"lib/std.jai": "", "modules/m.jai": ""})

	w := New(nil)
	w.SetRoots([]string{root})

	paths, err := w.IndexFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "lib", "std.jai"),
		filepath.Join(root, "modules", "m.jai"),
	}, paths)
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	w := New(nil)
	w.SetRoots([]string{root})

	tests := []struct {
		rel     string
		modules bool
		symbols bool
	}{
		{"lib/std.jai", false, true},
		{"modules/math/vec.jai", true, true},
		{"lib/modules/io.jai", true, true},
		{"scripts/run.jai", false, false},
		{"modules/build/x.jai", false, false},
		{"modules/readme.md", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got := w.Classify(filepath.Join(root, filepath.FromSlash(tt.rel)))
			assert.Equal(t, tt.modules, got.Has(Modules))
			assert.Equal(t, tt.symbols, got.Has(Symbols))
		})
	}

	assert.Zero(t, w.Classify("/not/in/workspace/modules/a.jai"))
}

func TestIgnored(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{".gitignore": "tmp/\n"})
	w := New(nil)
	w.SetRoots([]string{root})

	assert.True(t, w.Ignored(filepath.Join(root, "node_modules"), true))
	assert.True(t, w.Ignored(filepath.Join(root, "modules", "__pycache__"), true))
	assert.True(t, w.Ignored(filepath.Join(root, "tmp"), true))
	assert.False(t, w.Ignored(filepath.Join(root, "modules"), true))
	assert.False(t, w.Ignored(root, true))
}

func TestSetRootsDedupes(t *testing.T) {
	root := t.TempDir()
	w := New(nil)
	w.SetRoots([]string{root, "", root})
	assert.Equal(t, []string{root}, w.Roots())
}
