package gorm

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"webservice-io/internal/core/webservices"
)

var created = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newSQLiteRegistry runs the registry against a throwaway SQLite file with
// the same migration and error translation as production.
func newSQLiteRegistry(t *testing.T) *Registry {
	t.Helper()

	db, err := Open(sqlite.Open(filepath.Join(t.TempDir(), "registry.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	r := NewRegistry(db, zerolog.Nop())
	r.clock = func() time.Time { return created }
	return r
}

func TestSQLiteStoreAndGet(t *testing.T) {
	ctx := context.Background()
	r := newSQLiteRegistry(t)

	in := &webservices.WebService{
		ID: "dev1", Type: "Sensor", Name: "Sensor:dev1", Service: "A", Subservice: "/s",
		Active:        []webservices.Attribute{{Name: "temp", Type: "Number"}},
		Subscriptions: []webservices.Subscription{{ID: "sub1"}},
	}
	out, err := r.Store(ctx, in)
	require.NoError(t, err)
	assert.True(t, created.Equal(out.CreationDate))

	got, err := r.Get(ctx, "dev1", "A", "/s")
	require.NoError(t, err)
	assert.Equal(t, "temp", got.Active[0].Name)
	assert.Equal(t, "sub1", got.Subscriptions[0].ID)
	assert.True(t, created.Equal(got.CreationDate))

	_, err = r.Get(ctx, "dev1", "A", "/other")
	assert.ErrorIs(t, err, webservices.ErrNotFound)
	_, err = r.Get(ctx, "dev1", "B", "/s")
	assert.ErrorIs(t, err, webservices.ErrNotFound)
	_, err = r.Get(ctx, "dev1", "A", "")
	assert.NoError(t, err, "empty subservice matches any")

	byName, err := r.GetByName(ctx, "Sensor:dev1", "A", "/s")
	require.NoError(t, err)
	assert.Equal(t, "dev1", byName.ID)
	_, err = r.GetByName(ctx, "missing", "A", "/s")
	assert.ErrorIs(t, err, webservices.ErrNotFound)
}

func TestSQLiteStoreTellsDuplicatesApart(t *testing.T) {
	ctx := context.Background()
	r := newSQLiteRegistry(t)

	_, err := r.Store(ctx, &webservices.WebService{ID: "dev1", Name: "n1", Service: "A", Subservice: "/s"})
	require.NoError(t, err)

	_, err = r.Store(ctx, &webservices.WebService{ID: "dev1", Name: "n2", Service: "A", Subservice: "/t"})
	assert.ErrorIs(t, err, webservices.ErrDuplicateID)

	_, err = r.Store(ctx, &webservices.WebService{ID: "dev2", Name: "n1", Service: "A", Subservice: "/s"})
	assert.ErrorIs(t, err, webservices.ErrDuplicateName)

	_, err = r.Store(ctx, &webservices.WebService{ID: "dev3", Name: "n1", Service: "A", Subservice: "/t"})
	assert.NoError(t, err, "names are scoped by subservice")

	_, err = r.Store(ctx, &webservices.WebService{ID: "dev1", Name: "n1", Service: "B", Subservice: "/s"})
	assert.NoError(t, err, "ids are scoped by service")
}

func TestSQLiteListCountsBeforePaging(t *testing.T) {
	ctx := context.Background()
	r := newSQLiteRegistry(t)
	for i := 0; i < 5; i++ {
		_, err := r.Store(ctx, &webservices.WebService{ID: fmt.Sprintf("dev%d", i), Name: fmt.Sprintf("n%d", i), Service: "A", Subservice: "/s"})
		require.NoError(t, err)
	}
	_, err := r.Store(ctx, &webservices.WebService{ID: "other", Name: "o", Service: "A", Subservice: "/t"})
	require.NoError(t, err)

	tests := []struct {
		name          string
		limit, offset int
		want          []string
	}{
		{"everything", 0, 0, []string{"dev0", "dev1", "dev2", "dev3", "dev4"}},
		{"limit", 2, 0, []string{"dev0", "dev1"}},
		{"offset", 0, 3, []string{"dev3", "dev4"}},
		{"window", 2, 1, []string{"dev1", "dev2"}},
		{"past the end", 2, 9, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.List(ctx, "A", "/s", tt.limit, tt.offset)
			require.NoError(t, err)
			assert.EqualValues(t, 5, res.Count)
			got := make([]string, len(res.WebServices))
			for i, ws := range res.WebServices {
				got[i] = ws.ID
			}
			assert.Equal(t, tt.want, got)
		})
	}

	all, err := r.List(ctx, "A", "", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 6, all.Count)
}

func TestSQLiteGetByAttribute(t *testing.T) {
	ctx := context.Background()
	r := newSQLiteRegistry(t)
	for _, ws := range []*webservices.WebService{
		{ID: "a", Name: "a", Type: "Sensor", Service: "A", Subservice: "/s", RegistrationID: "r1"},
		{ID: "b", Name: "b", Type: "Sensor", Service: "B", Subservice: "/s"},
		{ID: "c", Name: "c", Type: "Meter", Service: "A", Subservice: "/s"},
	} {
		_, err := r.Store(ctx, ws)
		require.NoError(t, err)
	}

	all, err := r.GetByAttribute(ctx, "type", "Sensor", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := r.GetByAttribute(ctx, "registrationId", "r1", "A", "/s")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "a", scoped[0].ID)

	_, err = r.GetByAttribute(ctx, "active", "x", "", "")
	assert.ErrorIs(t, err, webservices.ErrNotFound, "unknown attributes never reach the query")
}

func TestSQLiteUpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	r := newSQLiteRegistry(t)

	stored, err := r.Store(ctx, &webservices.WebService{
		ID: "dev1", Name: "n1", Type: "Sensor", Service: "A", Subservice: "/s",
		Active: []webservices.Attribute{{Name: "temp"}},
	})
	require.NoError(t, err)
	_, err = r.Store(ctx, &webservices.WebService{ID: "dev2", Name: "n2", Service: "A", Subservice: "/s"})
	require.NoError(t, err)

	r.clock = func() time.Time { return created.Add(time.Hour) }
	upd := stored.DeepCopy()
	upd.Active = nil
	upd.Lazy = []webservices.Attribute{{Name: "batt"}}
	upd.Endpoint = "http://dev"
	upd.CreationDate = time.Time{}

	out, err := r.Update(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, "dev1", out.ID)
	assert.Equal(t, "A", out.Service)
	assert.Equal(t, "/s", out.Subservice)
	assert.True(t, created.Equal(out.CreationDate))
	assert.Empty(t, out.Active, "a cleared list is written")
	assert.Equal(t, "batt", out.Lazy[0].Name)
	assert.Equal(t, "http://dev", out.Endpoint)

	clash := out.DeepCopy()
	clash.Name = "n2"
	_, err = r.Update(ctx, clash)
	assert.ErrorIs(t, err, webservices.ErrDuplicateName)

	_, err = r.Update(ctx, &webservices.WebService{ID: "ghost", Service: "A"})
	assert.ErrorIs(t, err, webservices.ErrNotFound)
}

func TestSQLiteRemoveAcrossTenantsAndClear(t *testing.T) {
	ctx := context.Background()
	r := newSQLiteRegistry(t)
	for _, svc := range []string{"A", "B"} {
		_, err := r.Store(ctx, &webservices.WebService{ID: "dev1", Name: "n", Service: svc, Subservice: "/s"})
		require.NoError(t, err)
	}
	_, err := r.Store(ctx, &webservices.WebService{ID: "dev2", Name: "m", Service: "A", Subservice: "/s"})
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "dev1", "A", "/s"))
	require.NoError(t, r.Remove(ctx, "dev1", "A", "/s"))

	_, err = r.Get(ctx, "dev1", "B", "/s")
	assert.ErrorIs(t, err, webservices.ErrNotFound)
	_, err = r.Get(ctx, "dev2", "A", "/s")
	assert.NoError(t, err)

	require.NoError(t, r.Clear(ctx))
	res, err := r.List(ctx, "", "", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.WebServices)
}
