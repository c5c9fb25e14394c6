package specstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "web.yaml", `
name: web
containers:
  - name: app
    image: nginx:latest
    ports:
      http: 80
`)

	s, err := New(filepath.Join(dir, "web.yaml"))
	require.NoError(t, err)

	spec, ok := s.Get("web")
	require.True(t, ok)
	assert.Equal(t, "nginx:latest", spec.Containers[0].Image)
}

func TestLoadDirectoryMultiDoc(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "flocks.yaml", `
name: web
containers:
  - name: app
    image: nginx:latest
---
name: worker
containers:
  - name: app
    image: busybox:latest
`)
	writeFile(t, dir, "ignored.txt", "not yaml")

	s, err := New(dir)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "web", list[0].Name)
	assert.Equal(t, "worker", list[1].Name)
}

func TestEnvironmentInterpolationSkipsEnvironmentMap(t *testing.T) {
	t.Setenv("IMAGE_TAG", "v2")
	t.Setenv("API_KEY", "should-not-leak")

	dir := t.TempDir()
	writeFile(t, dir, "spec.yaml", `
name: web
containers:
  - name: app
    image: nginx:${IMAGE_TAG}
    environment:
      API_KEY: "${API_KEY}"
`)

	s, err := New(filepath.Join(dir, "spec.yaml"))
	require.NoError(t, err)

	spec, ok := s.Get("web")
	require.True(t, ok)
	assert.Equal(t, "nginx:v2", spec.Containers[0].Image)
	assert.Equal(t, "${API_KEY}", spec.Containers[0].Environment["API_KEY"],
		"container environment values must not be interpolated")
}

func TestMissingRequiredFieldsCollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
name: ""
containers:
  - name: app
    image: ""
`)

	_, err := New(filepath.Join(dir, "bad.yaml"))
	require.Error(t, err)

	var invalid *InvalidSpec
	require.ErrorAs(t, err, &invalid)
	assert.GreaterOrEqual(t, len(invalid.Errors), 2)
}

func TestDuplicateNameOverwrites(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dup.yaml", `
name: web
containers:
  - name: app
    image: old:latest
---
name: web
containers:
  - name: app
    image: new:latest
`)

	s, err := New(filepath.Join(dir, "dup.yaml"))
	require.NoError(t, err)

	spec, ok := s.Get("web")
	require.True(t, ok)
	assert.Equal(t, "new:latest", spec.Containers[0].Image)
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "spec.yaml", `
name: web
containers:
  - name: app
    image: nginx:1
`)

	s, err := New(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
name: web
containers:
  - name: app
    image: nginx:2
`), 0644))
	require.NoError(t, s.Reload())

	spec, ok := s.Get("web")
	require.True(t, ok)
	assert.Equal(t, "nginx:2", spec.Containers[0].Image)
}
