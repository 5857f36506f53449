package background

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl-sub007/internal/idgen"
	"github.com/noetl/noetl-sub007/internal/jobqueue"
	"github.com/noetl/noetl-sub007/internal/keychain"
	"github.com/noetl/noetl-sub007/internal/render"
)

// fakeKeyGenerator simulates KMS generate/decrypt enough to exercise
// Cipher's envelope encryption without calling AWS, the same stand-in
// internal/keychain's own cipher_test.go uses (unexported there).
type fakeKeyGenerator struct{ master []byte }

func newFakeKeyGenerator() *fakeKeyGenerator {
	master := make([]byte, 32)
	_, _ = rand.Read(master)
	return &fakeKeyGenerator{master: master}
}

func (f *fakeKeyGenerator) GenerateDataKey(ctx context.Context, keyID string) ([]byte, []byte, error) {
	plainKey := make([]byte, 32)
	_, _ = rand.Read(plainKey)
	return plainKey, f.wrap(plainKey), nil
}

func (f *fakeKeyGenerator) DecryptDataKey(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	return f.wrap(encryptedKey), nil
}

func (f *fakeKeyGenerator) wrap(key []byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ f.master[i%len(f.master)]
	}
	return out
}

func newTestSweeper(t *testing.T) (*Sweeper, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	ids, err := idgen.NewGenerator(1)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	queue := jobqueue.NewQueue(sqlxDB, ids, nil)
	store := keychain.NewStore(sqlxDB, ids)
	cache := keychain.NewCache(redisClient)
	cipher := keychain.NewCipher(newFakeKeyGenerator(), "test-key")
	resolver := keychain.NewResolver(store, cache, cipher, render.NewEvaluator(16), nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSweeper(queue, store, resolver, logger,
		WithReapInterval(time.Second), WithRenewInterval(2*time.Second))

	return sweeper, mock
}

func TestEverySpecRendersDuration(t *testing.T) {
	require.Equal(t, "@every 30s", everySpec(30*time.Second))
	require.Equal(t, "@every 5m0s", everySpec(5*time.Minute))
}

func TestRunReapLogsReclaimedCount(t *testing.T) {
	sweeper, mock := newTestSweeper(t)
	mock.ExpectExec(`UPDATE queue_entries`).WillReturnResult(sqlmock.NewResult(0, 2))

	sweeper.runReap()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRenewSkipsWhenNothingDue(t *testing.T) {
	sweeper, mock := newTestSweeper(t)
	mock.ExpectQuery(`SELECT \* FROM keychain_entries WHERE auto_renew = true`).
		WillReturnRows(sqlmock.NewRows([]string{
			"keychain_id", "catalog_id", "execution_id", "name", "credential_type",
			"scope_type", "encrypted_data", "encrypted_data_key", "expires_at",
			"auto_renew", "renew_config", "created_at",
		}))

	sweeper.runRenew()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartAndStop(t *testing.T) {
	sweeper, _ := newTestSweeper(t)

	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}
