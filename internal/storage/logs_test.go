package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferroci/pkg/utils"
)

func TestOpenStepWritesCommandAndOutput(t *testing.T) {
	ls := NewLogStorage(t.TempDir())

	w, err := ls.OpenStep("run-1", "build", 0, "go build ./...")
	require.NoError(t, err)
	_, err = fmt.Fprintln(w, "ok")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(ls.Path("run-1", "build", 0))
	require.NoError(t, err)
	assert.Equal(t, "$ go build ./...\nok\n", string(data))
}

func TestPath(t *testing.T) {
	ls := NewLogStorage("logs")

	assert.Equal(t, filepath.Join("logs", "local", "build_2.log"), ls.Path("", "build", 2))
	assert.Equal(t, filepath.Join("logs", "r1", "unittests-"+utils.HashBytes([]byte("unit/tests"))[:8]+"_0.log"),
		ls.Path("r1", "unit/tests", 0))
	assert.Equal(t, filepath.Join("logs", "step-"+utils.HashBytes([]byte(".."))[:8], "step-"+utils.HashBytes([]byte("../"))[:8]+"_0.log"),
		ls.Path("..", "../", 0))
}

func TestPathKeepsDistinctJobsApart(t *testing.T) {
	ls := NewLogStorage(t.TempDir())
	jobs := []string{"buildlinux", "build/linux", "build linux", "build_linux", "build", "build_1"}

	seen := make(map[string]string)
	for _, job := range jobs {
		for i := 0; i < 12; i++ {
			path := ls.Path("r1", job, i)
			if other, dup := seen[path]; dup {
				t.Fatalf("%s step %d shares %s with %s", job, i, path, other)
			}
			seen[path] = fmt.Sprintf("%s step %d", job, i)
		}
	}

	a, err := ls.OpenStep("r1", "build/linux", 0, "echo a")
	require.NoError(t, err)
	b, err := ls.OpenStep("r1", "buildlinux", 0, "echo b")
	require.NoError(t, err)
	_, err = fmt.Fprintln(a, "from a")
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	data, err := os.ReadFile(ls.Path("r1", "build/linux", 0))
	require.NoError(t, err)
	assert.Equal(t, "$ echo a\nfrom a\n", string(data))
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"build":        "build",
		"unit tests":   "unittests",
		"deploy-prod":  "deploy-prod",
		"$(rm -rf /)":  "rm-rf",
		"":             "step",
		"v1.2_release": "v1.2_release",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitize(in), in)
	}
}
