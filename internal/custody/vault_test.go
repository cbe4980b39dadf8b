package custody_test

import (
	"testing"

	"HookLedger/internal/custody"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultTransfers(t *testing.T) {
	v := custody.NewVault()
	alice := uuid.New()

	require.NoError(t, v.TransferIn("USDC", alice, 1_000))
	require.NoError(t, v.TransferOut("USDC", alice, 400))
	assert.Equal(t, int64(600), v.Holding("USDC"))

	err := v.TransferOut("USDC", alice, 601)
	require.ErrorIs(t, err, custody.ErrInsufficientFunds)
	assert.Equal(t, int64(600), v.Holding("USDC"))

	require.ErrorIs(t, v.TransferIn("USDC", alice, 0), custody.ErrInvalidAmount)
	require.ErrorIs(t, v.TransferOut("ETH", alice, -1), custody.ErrInvalidAmount)
}

func TestVaultCheckpoint(t *testing.T) {
	v := custody.NewVault()
	bob := uuid.New()
	require.NoError(t, v.TransferIn("USDC", bob, 500))

	restore := v.Checkpoint()
	require.NoError(t, v.TransferIn("USDC", bob, 250))
	require.NoError(t, v.TransferIn("ETH-USDC:lp", bob, 10))
	restore()

	assert.Equal(t, int64(500), v.Holding("USDC"))
	assert.Zero(t, v.Holding("ETH-USDC:lp"))
}

func TestVaultExportImport(t *testing.T) {
	v := custody.NewVault()
	require.NoError(t, v.TransferIn("USDC", uuid.New(), 42))
	require.NoError(t, v.TransferIn("ETH-USDC:lp", uuid.New(), 7))

	h := v.Export()
	assert.Equal(t, []string{"ETH-USDC:lp", "USDC"}, h.Tokens())

	other := custody.NewVault()
	other.Import(h)
	assert.Equal(t, int64(42), other.Holding("USDC"))
	assert.Equal(t, int64(7), other.Holding("ETH-USDC:lp"))
}
