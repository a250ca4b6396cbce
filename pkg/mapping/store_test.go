package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataworks-io/sqlgate/pkg/apierr"
	"github.com/dataworks-io/sqlgate/pkg/models"
)

type fakeLoader struct {
	mu   sync.Mutex
	rows []models.DBMapping
	err  error
}

func (f *fakeLoader) LoadActiveMappings(ctx context.Context) ([]models.DBMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.DBMapping, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeLoader) set(rows []models.DBMapping) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func (f *fakeLoader) GetMapping(ctx context.Context, name string) (models.DBMapping, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.DBMapping{}, false, f.err
	}
	for _, row := range f.rows {
		if row.Name == name {
			return row, true, nil
		}
	}
	return models.DBMapping{}, false, nil
}

func TestStore_GetUnknownDestinationReturnsTypedError(t *testing.T) {
	loader := &fakeLoader{}
	store := NewStore(loader)
	require.NoError(t, store.Refresh(context.Background()))

	_, err := store.Get(context.Background(), "does-not-exist")
	require.Error(t, err)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.CodeInvalidParams, apiErr.Code)
}

func TestStore_GetInactiveMappingIsTreatedAsUnknown(t *testing.T) {
	loader := &fakeLoader{rows: []models.DBMapping{
		{Name: "warehouse", Host: "db1", Port: 5432, Active: false},
	}}
	store := NewStore(loader)
	require.NoError(t, store.Refresh(context.Background()))

	_, err := store.Get(context.Background(), "warehouse")
	assert.Error(t, err)
}

func TestStore_GetReadsThroughOnCacheMissAndCachesResult(t *testing.T) {
	loader := &fakeLoader{}
	store := NewStore(loader)
	require.NoError(t, store.Refresh(context.Background()))
	assert.Equal(t, 0, store.Len())

	loader.set([]models.DBMapping{{Name: "warehouse", Host: "db1", Port: 5432, Active: true}})

	m, err := store.Get(context.Background(), "warehouse")
	require.NoError(t, err)
	assert.Equal(t, "db1", m.Host)
	assert.Equal(t, 1, store.Len())
}

func TestStore_GetReadThroughFailurePropagatesDBConnectionError(t *testing.T) {
	loader := &fakeLoader{err: errors.New("control db unreachable")}
	store := NewStore(loader)

	_, err := store.Get(context.Background(), "warehouse")
	require.Error(t, err)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.CodeDBConnectionError, apiErr.Code)
}

func TestStore_RefreshReplacesTableWholesale(t *testing.T) {
	loader := &fakeLoader{rows: []models.DBMapping{
		{Name: "a", Host: "h1", Active: true},
		{Name: "b", Host: "h2", Active: true},
	}}
	store := NewStore(loader)
	require.NoError(t, store.Refresh(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b"}, store.Names())

	loader.set([]models.DBMapping{{Name: "c", Host: "h3", Active: true}})
	require.NoError(t, store.Refresh(context.Background()))
	assert.Equal(t, []string{"c"}, store.Names())
}

func TestStore_FailedRefreshLeavesExistingTableIntact(t *testing.T) {
	loader := &fakeLoader{rows: []models.DBMapping{{Name: "a", Host: "h1", Active: true}}}
	store := NewStore(loader)
	require.NoError(t, store.Refresh(context.Background()))

	loader.err = errors.New("boom")
	err := store.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"a"}, store.Names())
}

func TestStore_ResolveMapsAllFields(t *testing.T) {
	m := models.DBMapping{Host: "h", Port: 1, Username: "u", Password: "p", Database: "d"}
	rc := Resolve(m)
	assert.Equal(t, models.ResolvedConn{Host: "h", Port: 1, Username: "u", Password: "p", Database: "d"}, rc)
}
