package credit

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mark3labs/x402-proxy/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	mem := store.NewMemoryStore(node)
	return NewLedger(mem, zaptest.NewLogger(t)), mem
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestOverpayment(t *testing.T) {
	tests := []struct {
		name  string
		paid  string
		price string
		want  string
	}{
		{name: "exact payment", paid: "0.01", price: "0.01", want: "0"},
		{name: "overpayment", paid: "0.05", price: "0.01", want: "0.04"},
		{name: "underpayment floors at zero", paid: "0.005", price: "0.01", want: "0"},
		{name: "free endpoint", paid: "0.05", price: "0", want: "0.05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overpayment(dec(t, tt.paid), dec(t, tt.price))
			assert.True(t, got.Equal(dec(t, tt.want)), "Overpayment(%s, %s) = %s, want %s", tt.paid, tt.price, got, tt.want)
		})
	}
}

func TestDepositAccumulates(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	endpointID, projectID := snowflake.ID(10), snowflake.ID(1)
	payer := "0xAbCd000000000000000000000000000000000001"

	// Many small deposits must accumulate without drift.
	var last *store.CreditBalance
	for i := 0; i < 100; i++ {
		b, err := ledger.Deposit(ctx, projectID, endpointID, payer, dec(t, "0.04"), "0xtx")
		require.NoError(t, err)
		last = b
	}

	assert.True(t, last.Balance.Equal(dec(t, "4")), "balance = %s", last.Balance)
	assert.True(t, last.TotalDeposited.Equal(dec(t, "4")), "totalDeposited = %s", last.TotalDeposited)
	assert.True(t, last.TotalSpent.IsZero())
	assert.True(t, last.Balance.Equal(last.TotalDeposited.Sub(last.TotalSpent)))
}

func TestDepositCaseInsensitivePayer(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	endpointID, projectID := snowflake.ID(10), snowflake.ID(1)

	_, err := ledger.Deposit(ctx, projectID, endpointID, "0xABCD000000000000000000000000000000000001", dec(t, "1"), "")
	require.NoError(t, err)
	_, err = ledger.Deposit(ctx, projectID, endpointID, "0xabcd000000000000000000000000000000000001", dec(t, "1"), "")
	require.NoError(t, err)

	b, err := ledger.Balance(ctx, endpointID, "0xAbCd000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(dec(t, "2")), "balance = %s", b.Balance)
}

func TestWithdrawSequence(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	endpointID, projectID := snowflake.ID(10), snowflake.ID(1)
	payer := "0x1111111111111111111111111111111111111111"

	_, err := ledger.Deposit(ctx, projectID, endpointID, payer, dec(t, "0.04"), "0xtx1")
	require.NoError(t, err)

	// Exactly four cent withdrawals fit in a four-cent balance.
	for i := 0; i < 4; i++ {
		_, err := ledger.Withdraw(ctx, endpointID, payer, dec(t, "0.01"))
		require.NoError(t, err, "withdrawal %d", i+1)
	}

	_, err = ledger.Withdraw(ctx, endpointID, payer, dec(t, "0.01"))
	require.ErrorIs(t, err, store.ErrInsufficientCredits)

	b, err := ledger.Balance(ctx, endpointID, payer)
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero(), "balance = %s", b.Balance)
	assert.True(t, b.TotalSpent.Equal(dec(t, "0.04")))
	assert.True(t, b.Balance.Equal(b.TotalDeposited.Sub(b.TotalSpent)))
}

func TestWithdrawInsufficientLeavesBalanceUntouched(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	endpointID, projectID := snowflake.ID(10), snowflake.ID(1)
	payer := "0x1111111111111111111111111111111111111111"

	_, err := ledger.Withdraw(ctx, endpointID, payer, dec(t, "0.01"))
	require.ErrorIs(t, err, store.ErrInsufficientCredits, "withdraw with no row")

	_, err = ledger.Deposit(ctx, projectID, endpointID, payer, dec(t, "0.005"), "")
	require.NoError(t, err)

	_, err = ledger.Withdraw(ctx, endpointID, payer, dec(t, "0.01"))
	require.ErrorIs(t, err, store.ErrInsufficientCredits)

	b, err := ledger.Balance(ctx, endpointID, payer)
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(dec(t, "0.005")), "failed withdrawal mutated balance: %s", b.Balance)
	assert.True(t, b.TotalSpent.IsZero())
}

func TestNegativeAmountsRejected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, 1, 10, "0x1", dec(t, "-1"), "")
	require.Error(t, err)
	_, err = ledger.Withdraw(ctx, 10, "0x1", dec(t, "-1"))
	require.Error(t, err)
}

func TestConcurrentWithdrawals(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	endpointID, projectID := snowflake.ID(10), snowflake.ID(1)
	payer := "0x1111111111111111111111111111111111111111"

	// Fund 7 one-cent requests, then race 50 of them. Exactly 7 may win.
	_, err := ledger.Deposit(ctx, projectID, endpointID, payer, dec(t, "0.07"), "")
	require.NoError(t, err)

	const attempts = 50
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Withdraw(ctx, endpointID, payer, dec(t, "0.01"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			require.ErrorIs(t, err, store.ErrInsufficientCredits)
			rejected++
		}
	}
	assert.Equal(t, 7, succeeded, "exactly the funded withdrawals may succeed")
	assert.Equal(t, attempts-7, rejected)

	b, err := ledger.Balance(ctx, endpointID, payer)
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero(), "balance = %s", b.Balance)
	assert.False(t, b.Balance.IsNegative(), "balance went negative")
}
