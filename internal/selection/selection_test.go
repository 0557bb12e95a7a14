package selection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelchamgl/reli.one-sub000/internal/basket"
	"github.com/pavelchamgl/reli.one-sub000/internal/storage"
	redisstore "github.com/pavelchamgl/reli.one-sub000/internal/storage/redis"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

const client = "client-0001"

func setup(t *testing.T, cfg Config) (*Sync, *basket.Store, *redisstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := redisstore.NewStore(rdb, time.Hour)
	store := basket.NewStore(kv, logger)
	return New(store, kv, cfg, logger), store, kv
}

func selectedBasket(t *testing.T, store *basket.Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"V1", "V2"} {
		_, err := store.AddLine(ctx, client, basket.AddLineInput{
			ProductVariantID: id, Quantity: 1, UnitPrice: decimal.NewFromInt(10),
		})
		require.NoError(t, err)
	}
	_, err := store.SelectAll(ctx, client, true)
	require.NoError(t, err)
}

func TestNormalize(t *testing.T) {
	langs := map[string]bool{"cs": true, "en": true}
	tests := []struct {
		in, want string
	}{
		{"/", "/"},
		{"/basket/", "/basket"},
		{"/basket?step=1", "/basket"},
		{"/payment#top", "/payment"},
		{"/cs/basket", "/basket"},
		{"/EN/payment/delivery", "/payment/delivery"},
		{"/cs", "/"},
		{"/csr/basket", "/csr/basket"},
		{"/category/shoes/", "/category/shoes"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in, langs), tt.in)
	}
}

func TestOnRouteChange_LeavingCheckoutResets(t *testing.T) {
	s, store, _ := setup(t, Config{ResetEnabled: true})
	ctx := context.Background()
	selectedBasket(t, store)

	res, err := s.OnRouteChange(ctx, client, "/basket")
	require.NoError(t, err)
	assert.False(t, res.Reset)

	res, err = s.OnRouteChange(ctx, client, "/")
	require.NoError(t, err)
	assert.True(t, res.Reset)

	b, err := store.Get(ctx, client)
	require.NoError(t, err)
	assert.Empty(t, b.SelectedIDs())
	assert.True(t, b.TotalSelected().IsZero())
}

func TestOnRouteChange_CheckoutRoutesPreserve(t *testing.T) {
	s, store, _ := setup(t, Config{ResetEnabled: true})
	ctx := context.Background()
	selectedBasket(t, store)

	for _, path := range []string{"/basket", "/payment", "/cs/payment/", "/payment/delivery", "/mob_basket?x=1"} {
		res, err := s.OnRouteChange(ctx, client, path)
		require.NoError(t, err)
		assert.False(t, res.Reset, path)
	}

	b, err := store.Get(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, []string{"V1", "V2"}, b.SelectedIDs())
}

func TestOnRouteChange_ResetDisabled(t *testing.T) {
	s, store, _ := setup(t, Config{ResetEnabled: false})
	ctx := context.Background()
	selectedBasket(t, store)

	res, err := s.OnRouteChange(ctx, client, "/category/shoes")
	require.NoError(t, err)
	assert.False(t, res.Reset)

	b, err := store.Get(ctx, client)
	require.NoError(t, err)
	assert.Len(t, b.SelectedIDs(), 2)
}

func TestOnRouteChange_CustomAllowList(t *testing.T) {
	s, store, _ := setup(t, Config{ResetEnabled: true, AllowedRoutes: []string{"/cart/"}})
	ctx := context.Background()
	selectedBasket(t, store)

	res, err := s.OnRouteChange(ctx, client, "/cart")
	require.NoError(t, err)
	assert.False(t, res.Reset)

	res, err = s.OnRouteChange(ctx, client, "/basket")
	require.NoError(t, err)
	assert.True(t, res.Reset)
}

func TestOnRouteChange_TrailKeepsLastTen(t *testing.T) {
	s, _, kv := setup(t, Config{ResetEnabled: false})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := s.OnRouteChange(ctx, client, "/product/"+string(rune('a'+i)))
		require.NoError(t, err)
	}
	res, err := s.OnRouteChange(ctx, client, "/product/l")
	require.NoError(t, err)

	assert.Len(t, res.Trail, MaxTrail)
	assert.Equal(t, "/product/c", res.Trail[0])
	assert.Equal(t, "/product/l", res.Trail[MaxTrail-1], "repeated route is not appended twice")

	raw, ok, err := kv.Get(ctx, client, storage.KeyPaths)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, "/product/l")
}

func TestOnRouteChange_InvalidPath(t *testing.T) {
	s, _, _ := setup(t, Config{ResetEnabled: true})

	_, err := s.OnRouteChange(context.Background(), client, "basket")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = s.OnRouteChange(context.Background(), "", "/")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
