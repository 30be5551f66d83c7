package loader

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"client": map[string]any{"path": "cvs", "encoding": "utf-8"},
		"status": map[string]any{"limit": 10},
	}
	src := map[string]any{
		"client": map[string]any{"path": "/usr/bin/cvs"},
		"status": "flat",
		"log":    map[string]any{"level": "debug"},
	}

	got := DeepMerge(dst, src)

	assert.Equal(t, map[string]any{
		"client": map[string]any{"path": "/usr/bin/cvs", "encoding": "utf-8"},
		"status": "flat",
		"log":    map[string]any{"level": "debug"},
	}, got)
	assert.Equal(t, map[string]any{"a": 1}, DeepMerge(nil, map[string]any{"a": 1}))
	assert.Equal(t, map[string]any{"a": 1}, DeepMerge(map[string]any{"a": 1}, nil))
}

func TestClone(t *testing.T) {
	src := map[string]any{
		"watch": map[string]any{"ignore": []any{"*.o", map[string]any{"x": 1}}},
	}
	dst := Clone(src)
	require.Equal(t, src, dst)

	dst["watch"].(map[string]any)["ignore"].([]any)[0] = "changed"
	assert.Equal(t, "*.o", src["watch"].(map[string]any)["ignore"].([]any)[0])
	assert.Nil(t, Clone(nil))
}

func TestSetGetPath(t *testing.T) {
	m := map[string]any{"scm": "flat"}
	SetPath(m, "scm.enabled", true)
	SetPath(m, "retry.lockContention", false)

	v, ok := GetPath(m, "scm.enabled")
	require.True(t, ok)
	assert.Equal(t, true, v)

	v, ok = GetPath(m, "retry.lockContention")
	require.True(t, ok)
	assert.Equal(t, false, v)

	_, ok = GetPath(m, "scm.enabled.deeper")
	assert.False(t, ok)
	_, ok = GetPath(m, "missing")
	assert.False(t, ok)
}

func TestTOMLLoader(t *testing.T) {
	fsys := fstest.MapFS{
		"ok.toml":  {Data: []byte("[status]\nlimit = 42\n")},
		"bad.toml": {Data: []byte("[status\n")},
	}

	cfg, err := NewTOMLLoaderWithFS(fsys, "ok.toml").Load()
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg["status"].(map[string]any)["limit"])

	cfg, err = NewTOMLLoaderWithFS(fsys, "missing.toml").Load()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = NewTOMLLoaderWithFS(fsys, "bad.toml").Load()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bad.toml", perr.Path)
	assert.Positive(t, perr.Line)

	cfg, err = NewTOMLLoaderWithFS(fsys, "").LoadFromReader(strings.NewReader(`log = { level = "warn" }`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg["log"].(map[string]any)["level"])
}

func TestYAMLLoader(t *testing.T) {
	fsys := fstest.MapFS{
		"ok.yaml":  {Data: []byte("status:\n  limit: 42\ncodes:\n  1: one\n")},
		"bad.yaml": {Data: []byte("status: [\n")},
	}

	cfg, err := NewYAMLLoaderWithFS(fsys, "ok.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg["status"].(map[string]any)["limit"])
	assert.Equal(t, map[string]any{"1": "one"}, cfg["codes"])

	_, err = NewYAMLLoaderWithFS(fsys, "bad.yaml").Load()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	cfg, err = NewYAMLLoaderWithFS(fsys, "missing.yaml").Load()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestForPath(t *testing.T) {
	fsys := fstest.MapFS{}

	l, err := ForPath(fsys, "a.TOML")
	require.NoError(t, err)
	assert.IsType(t, &TOMLLoader{}, l)

	l, err = ForPath(fsys, "a.yml")
	require.NoError(t, err)
	assert.IsType(t, &YAMLLoader{}, l)

	_, err = ForPath(fsys, "a.ini")
	assert.Error(t, err)
}

func TestEnvLoader(t *testing.T) {
	l := NewEnvLoaderFrom(DefaultEnvPrefix, []string{
		"CVSBRIDGE_STATUS_LIMIT=100",
		"CVSBRIDGE_RETRY_LOCK_CONTENTION=yes",
		"CVSBRIDGE_CVS=/usr/local/bin/cvs",
		"CVSBRIDGE_SCM_DEBOUNCE=500ms",
		"CVSBRIDGE_CLIENT_STATUS_ARGS=[\"-q\",\"status\"]",
		"CVSBRIDGE_LOG_FORMAT=",
		"CVSBRIDGE_=ignored",
		"HOME=/root",
		"MALFORMED",
	})

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"status": map[string]any{"limit": int64(100)},
		"retry":  map[string]any{"lockContention": true},
		"client": map[string]any{
			"path":       "/usr/local/bin/cvs",
			"statusArgs": []any{"-q", "status"},
		},
		"scm": map[string]any{"debounce": 500 * time.Millisecond},
		"log": map[string]any{"format": ""},
	}, cfg)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"true", true},
		{"OFF", false},
		{"1", int64(1)},
		{"0", int64(0)},
		{"1.5", 1.5},
		{"3s", 3 * time.Second},
		{`{"a":1}`, map[string]any{"a": float64(1)}},
		{"[broken", "[broken"},
		{"latin1", "latin1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseValue(tt.in))
		})
	}
}
