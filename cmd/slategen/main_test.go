package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schema = `entities:
  - name: Author
    attributes:
      - name: name
        type: string
    relationships:
      - name: books
        destination: Book
        to_many: true
        inverse: author
  - name: Book
    attributes:
      - name: title
        type: string
    relationships:
      - name: author
        destination: Author
        inverse: books
`

func writeSchema(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(p, []byte(schema), 0o600))
	return p
}

func TestCLIWritesToStdout(t *testing.T) {
	var out, errOut bytes.Buffer
	code := cli([]string{"--model", writeSchema(t), "--package", "library"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "package library")
	assert.Contains(t, out.String(), "// Source: schema.yaml")
	assert.Contains(t, out.String(), "func (e Entities) ResolveAuthorBooks(")
}

func TestCLIWritesFileOnlyWhenChanged(t *testing.T) {
	model := writeSchema(t)
	dst := filepath.Join(t.TempDir(), "models_gen.go")
	var out, errOut bytes.Buffer
	require.Equal(t, 0, cli([]string{"--model", model, "--package", "library", "--out", dst}, &out, &errOut), errOut.String())
	assert.Empty(t, out.String())

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(dst, old, old))
	require.Equal(t, 0, cli([]string{"--model", model, "--package", "library", "--out", dst}, &out, &errOut))
	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(old))
}

func TestCLIErrors(t *testing.T) {
	t.Setenv("GOPACKAGE", "")
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, cli([]string{"--model", writeSchema(t)}, &out, &errOut))
	assert.Contains(t, errOut.String(), "--package is required")

	errOut.Reset()
	assert.Equal(t, 1, cli([]string{"--model", "missing.yaml", "--package", "x"}, &out, &errOut))
	assert.Equal(t, 1, cli([]string{"--bogus"}, &out, &errOut))
}

func TestMainUsesExitFunc(t *testing.T) {
	orig, args := exitFunc, os.Args
	defer func() { exitFunc, os.Args = orig, args }()
	var got int
	exitFunc = func(code int) { got = code }
	os.Args = []string{"slategen", "--model", "missing.yaml", "--package", "x"}
	main()
	assert.Equal(t, 1, got)
}
