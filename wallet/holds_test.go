package wallet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"bcrnode/core/types"
)

func testOutPoint(index uint32) types.OutPoint {
	return types.OutPoint{Hash: chainhash.DoubleHashH([]byte("wallet")), Index: index}
}

func newTestLedger(t *testing.T) (*HoldLedger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "holds.db")
	ledger, err := OpenHoldLedger(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger, path
}

func TestHoldLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holds.db")
	ledger, err := OpenHoldLedger(path, nil)
	require.NoError(t, err)

	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, ledger.Put(testOutPoint(1), start))
	require.NoError(t, ledger.Put(testOutPoint(2), start.Add(time.Hour)))
	require.NoError(t, ledger.Close())

	reopened, err := OpenHoldLedger(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, testOutPoint(1).String(), records[0].OutPoint)

	held, err := reopened.Has(testOutPoint(2))
	require.NoError(t, err)
	require.True(t, held)
}

func TestHoldLedgerKeepsFirstTimestamp(t *testing.T) {
	ledger, _ := newTestLedger(t)
	first := time.Unix(1_700_000_000, 0)
	require.NoError(t, ledger.Put(testOutPoint(1), first))
	require.NoError(t, ledger.Put(testOutPoint(1), first.Add(time.Hour)))

	records, err := ledger.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].HeldAt.Equal(first))
}

func TestHoldLedgerStale(t *testing.T) {
	ledger, _ := newTestLedger(t)
	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, ledger.Put(testOutPoint(1), base))
	require.NoError(t, ledger.Put(testOutPoint(2), base.Add(2*time.Hour)))

	stale, err := ledger.Stale(base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, testOutPoint(1).String(), stale[0].OutPoint)
}

func TestHoldLedgerDelete(t *testing.T) {
	ledger, _ := newTestLedger(t)
	require.ErrorIs(t, ledger.Delete(testOutPoint(1)), ErrHoldNotFound)
	require.NoError(t, ledger.Put(testOutPoint(1), time.Now()))
	require.NoError(t, ledger.Delete(testOutPoint(1)))
	held, err := ledger.Has(testOutPoint(1))
	require.NoError(t, err)
	require.False(t, held)
}
