package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/order-service/internal/domain/coupon"
)

type memIssuer struct {
	mu      sync.Mutex
	coupons map[string]coupon.Coupon
	err     error
}

func (m *memIssuer) Create(_ context.Context, c *coupon.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	key := couponKey(c)
	if _, ok := m.coupons[key]; ok {
		return coupon.ErrAlreadyIssued
	}
	m.coupons[key] = *c
	return nil
}

func writeGz(t *testing.T, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestIngest_EarliestFileWins(t *testing.T) {
	first := writeGz(t, "a.csv.gz",
		"# tenantId,code,title,discount,validUpto",
		"t1,PIZZA20,Twenty off,20,2030-01-01T00:00:00Z",
		"t1,PIZZA20,Repeated in file,50,2030-01-01T00:00:00Z",
		"t2,PIZZA20,Other tenant,10,2030-01-01T00:00:00Z",
	)
	second := writeGz(t, "b.csv.gz",
		"t1,PIZZA20,Late copy,90,2031-01-01T00:00:00Z",
		"t1,WELCOME,Welcome,12.5,2030-06-01T12:00:00+05:30",
		"t1,BROKEN,Bad discount,lots,2030-01-01T00:00:00Z",
		"t1,TOOMUCH,Over,150,2030-01-01T00:00:00Z",
		"only,two",
	)

	store := &memIssuer{coupons: map[string]coupon.Coupon{}}
	c, err := ingest(context.Background(), store, []string{first, second})
	require.NoError(t, err)

	assert.Equal(t, int64(3), c.issued.Load())
	assert.Equal(t, int64(2), c.duplicate.Load())
	assert.Equal(t, int64(3), c.invalid.Load())

	pizza := store.coupons["t1\x00PIZZA20"]
	assert.Equal(t, "Twenty off", pizza.Title)
	assert.True(t, pizza.Discount.Equal(decimal.NewFromInt(20)))

	welcome := store.coupons["t1\x00WELCOME"]
	assert.True(t, welcome.Discount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, time.Date(2030, 6, 1, 6, 30, 0, 0, time.UTC), welcome.ValidUpto)

	assert.Contains(t, store.coupons, "t2\x00PIZZA20")
}

func TestIngest_StoreFailure(t *testing.T) {
	path := writeGz(t, "a.csv.gz", "t1,PIZZA20,Twenty off,20,2030-01-01T00:00:00Z")
	store := &memIssuer{coupons: map[string]coupon.Coupon{}, err: errors.New("connection refused")}

	_, err := ingest(context.Background(), store, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestParseRecord(t *testing.T) {
	c, err := parseRecord([]string{" t1 ", "SAVE10", "Ten off", "10", "2030-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "t1", c.TenantID)
	assert.Equal(t, "SAVE10", c.Code)

	for _, rec := range [][]string{
		{"", "SAVE10", "", "10", "2030-01-01T00:00:00Z"},
		{"t1", "SAVE10", "", "-1", "2030-01-01T00:00:00Z"},
		{"t1", "SAVE10", "", "10", "tomorrow"},
	} {
		_, err := parseRecord(rec)
		assert.Error(t, err, rec)
	}
}
