package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slate/pkg/domain"
	"slate/pkg/slate"
)

const schemaYAML = `entities:
  - name: Crate
    attributes:
      - name: label
        type: string
`

type workspace struct {
	dir    string
	config string
	model  *domain.Model
	desc   slate.StoreDescription
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	schema := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schema, []byte(schemaYAML), 0o600))
	data := filepath.Join(dir, "data")
	cfg := fmt.Sprintf(`model: %s
storage:
  driver: badger
  location: %s
log:
  level: error
blob:
  driver: fs
  root: %s
`, schema, data, filepath.Join(dir, "backups"))
	cfgPath := filepath.Join(dir, "slate.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	model, err := domain.LoadModel(schema)
	require.NoError(t, err)
	return workspace{dir: dir, config: cfgPath, model: model, desc: slate.StoreDescription{Driver: slate.DriverBadger, Location: data}}
}

// addCrates commits labels directly through a coordinator, outside the CLI.
func (w workspace) addCrates(t *testing.T, labels ...string) {
	t.Helper()
	ctx := context.Background()
	c := slate.New(nil)
	require.NoError(t, c.Configure(ctx, w.model, w.desc))
	defer func() { require.NoError(t, c.Close(ctx)) }()
	_, err := slate.Mutate(ctx, c, func(_ context.Context, wc *slate.WriteContext) (int, error) {
		for _, l := range labels {
			o, err := wc.Create("Crate")
			if err != nil {
				return 0, err
			}
			if err := o.Set("label", l); err != nil {
				return 0, err
			}
		}
		return len(labels), nil
	})
	require.NoError(t, err)
}

func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--config", w.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func crateCount(t *testing.T, w workspace) int {
	t.Helper()
	out, err := w.run(t, "inspect", "--json")
	require.NoError(t, err)
	var counts []entityCount
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	require.Len(t, counts, 1)
	return counts[0].Count
}

func TestInspectPrintsCounts(t *testing.T) {
	w := newWorkspace(t)
	w.addCrates(t, "a", "b")
	out, err := w.run(t, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "ENTITY")
	assert.Regexp(t, `Crate\s+2`, out)
	assert.Equal(t, 2, crateCount(t, w))
}

func TestBackupListRestoreDelete(t *testing.T) {
	w := newWorkspace(t)
	w.addCrates(t, "a", "b")

	out, err := w.run(t, "backup", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote nightly: 2 records in 1 entities")

	out, err = w.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Equal(t, "nightly\n", out)

	w.addCrates(t, "c")
	require.Equal(t, 3, crateCount(t, w))

	out, err = w.run(t, "restore", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "restored nightly: 2 records")
	assert.Equal(t, 2, crateCount(t, w))

	_, err = w.run(t, "backup", "delete", "nightly")
	require.NoError(t, err)
	out, err = w.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMissingModelIsReported(t *testing.T) {
	t.Setenv("SLATE_MODEL", "")
	t.Setenv("SLATE_STORAGE_DRIVER", "memory")
	var out bytes.Buffer
	root := newRootCmd(&out, &out)
	root.SetArgs([]string{"inspect"})
	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, errNoModel)
}

func TestServeMuxEndpoints(t *testing.T) {
	w := newWorkspace(t)
	w.addCrates(t, "a")
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := slate.New(nil, slate.WithMetrics(slate.NewMetrics(reg, "slate")))
	require.NoError(t, c.Configure(ctx, w.model, w.desc))
	t.Cleanup(func() { _ = c.Close(ctx) })

	srv := httptest.NewServer(newServeMux(c, w.model, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/entities")
	require.NoError(t, err)
	var counts []entityCount
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	_ = resp.Body.Close()
	assert.Equal(t, []entityCount{{Entity: "Crate", Count: 1}}, counts)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, body.String(), "slate_access_operations_total")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, http.NewServeMux(), slog.New(slog.DiscardHandler)) }()
	cancel()
	require.NoError(t, <-done)
	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err)
}
