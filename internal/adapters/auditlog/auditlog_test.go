package auditlog

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/audit"
	"github.com/odin-detector/odin-control/internal/infrastructure/database"
	"github.com/odin-detector/odin-control/internal/paramtree"
	"github.com/odin-detector/odin-control/migrations"
)

func newRepo(t *testing.T) *audit.SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx, migrations.FS))
	return audit.NewSQLiteRepository(db.DB)
}

func record(t *testing.T, repo audit.Repository, adapterName, path string, status int, at time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &audit.Entry{
		Adapter: adapterName, Path: path, Method: http.MethodPut, Source: "http",
		Status: status, Duration: 1500 * time.Microsecond, CreatedAt: at,
	}))
}

func get(t *testing.T, a *Adapter, path string) any {
	t.Helper()
	resp, err := a.Dispatch(context.Background(), adapter.Request{Method: http.MethodGet, Path: paramtree.ParsePath(path)})
	require.NoError(t, err)
	if len(path) == 0 {
		return resp.Data
	}
	v, ok := resp.Data.(paramtree.Object).Get(paramtree.ParsePath(path).Last())
	require.True(t, ok)
	return v
}

func TestServesRecentWrites(t *testing.T) {
	repo := newRepo(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := &Adapter{}
	require.NoError(t, a.Initialize(context.Background(), adapter.Options{
		Values: map[string]any{"limit": 2},
		Deps:   adapter.Dependencies{AuditLog: repo},
	}))
	assert.Equal(t, int64(0), get(t, a, "total"))

	record(t, repo, "dummy", "exposure", 200, base)
	record(t, repo, "dummy", "mode", 400, base.Add(time.Second))
	record(t, repo, "proxy", "det/x", 200, base.Add(2*time.Second))

	assert.Equal(t, int64(3), get(t, a, "total"))
	assert.Equal(t, int64(1), get(t, a, "failed"))
	assert.Equal(t, "det/x", get(t, a, "entries/0/path"))
	assert.Equal(t, int64(400), get(t, a, "entries/1/status"))
	assert.Equal(t, 0.001, get(t, a, "entries/1/duration"), "stored with millisecond resolution")

	_, err := a.Dispatch(context.Background(), adapter.Request{Method: http.MethodGet, Path: paramtree.ParsePath("entries/2")})
	assert.ErrorIs(t, err, paramtree.ErrPathNotFound, "limit caps the entries served")
}

func TestAdapterFilter(t *testing.T) {
	repo := newRepo(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record(t, repo, "dummy", "exposure", 200, base)
	record(t, repo, "proxy", "det/x", 200, base)

	a := New(repo)
	require.NoError(t, a.Initialize(context.Background(), adapter.Options{Values: map[string]any{"adapter": "proxy"}}))

	assert.Equal(t, int64(1), get(t, a, "total"))
	assert.Equal(t, "proxy", get(t, a, "entries/0/adapter"))
}

func TestReadOnly(t *testing.T) {
	a := New(newRepo(t))
	require.NoError(t, a.Initialize(context.Background(), adapter.Options{}))

	assert.False(t, a.Info().Allows(http.MethodPut))
	_, err := a.Tree().Set(paramtree.ParsePath("total"), 3)
	assert.ErrorIs(t, err, paramtree.ErrNotWritable)
}

func TestInitializeErrors(t *testing.T) {
	err := (&Adapter{}).Initialize(context.Background(), adapter.Options{})
	assert.ErrorIs(t, err, adapter.ErrInvalidOption, "no reader")

	err = New(newRepo(t)).Initialize(context.Background(), adapter.Options{Values: map[string]any{"limit": 0}})
	assert.ErrorIs(t, err, adapter.ErrInvalidOption)
}

type brokenReader struct{}

func (brokenReader) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return nil, errors.New("database is locked")
}

func TestReadFailure(t *testing.T) {
	err := New(brokenReader{}).Initialize(context.Background(), adapter.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestRegisteredKind(t *testing.T) {
	assert.Contains(t, adapter.Kinds(), Kind)
}
