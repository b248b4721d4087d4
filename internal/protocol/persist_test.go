package protocol_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mintclaw/paycore/internal/amount"
	"github.com/mintclaw/paycore/internal/escrow"
	"github.com/mintclaw/paycore/internal/fee"
	"github.com/mintclaw/paycore/internal/paytime"
	"github.com/mintclaw/paycore/internal/protocol"
	"github.com/mintclaw/paycore/internal/store"
	"github.com/mintclaw/paycore/pkg/db/pebble"
)

func openStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	kv, err := pebble.Open(filepath.Join(dir, "paycore"))
	require.NoError(t, err)
	return store.New(kv)
}

func TestRestartRestoresState(t *testing.T) {
	dir := t.TempDir()
	policy, err := fee.NewPolicy(250, feeRecipient)
	require.NoError(t, err)
	clock := paytime.NewManual(baseTime)

	st := openStore(t, dir)
	p, err := protocol.New(policy, protocol.WithClock(clock), protocol.WithStore(st))
	require.NoError(t, err)

	require.NoError(t, p.Mint(payer, amount.New(3_000_000)))
	require.NoError(t, p.Approve(payer, amount.New(3_000_000)))
	require.NoError(t, p.Pay(payer, recipient, amount.New(1_000_000), "before restart"))

	escrowID, err := p.CreateEscrow(payer, provider, amount.New(500_000), "job-1", baseTime+86_400)
	require.NoError(t, err)

	streamID, err := p.StartStream(payer, recipient, amount.New(100), 3600)
	require.NoError(t, err)

	history := p.History(0)
	require.NoError(t, st.Close())

	// Reopen against the same directory and compare the full surface.
	clock.Advance(1800)
	st = openStore(t, dir)
	defer st.Close()
	p2, err := protocol.New(policy, protocol.WithClock(clock), protocol.WithStore(st))
	require.NoError(t, err)

	require.Equal(t, p.BalanceOf(payer), p2.BalanceOf(payer))
	require.Equal(t, p.BalanceOf(recipient), p2.BalanceOf(recipient))
	require.Equal(t, p.BalanceOf(feeRecipient), p2.BalanceOf(feeRecipient))
	require.Equal(t, p.Allowance(payer), p2.Allowance(payer))
	require.Equal(t, history, p2.History(0))

	rec := p2.GetEscrow(escrowID)
	require.Equal(t, escrow.StateActive, rec.State)
	require.Equal(t, amount.New(500_000), rec.Amount)
	require.Equal(t, "job-1", rec.JobID)

	srec, ok := p2.GetStream(streamID)
	require.True(t, ok)
	require.True(t, srec.Active)

	// The restored instance keeps operating: withdraw half the stream and
	// release the escrow.
	got, err := p2.WithdrawFromStream(recipient, streamID)
	require.NoError(t, err)
	require.Equal(t, amount.New(180_000), got)
	require.NoError(t, p2.ReleaseEscrow(payer, escrowID))
	require.Equal(t, escrow.StateReleased, p2.GetEscrow(escrowID).State)

	// ID nonces restarted too: a new escrow must not collide with the old.
	id2, err := p2.CreateEscrow(payer, provider, amount.New(100_000), "job-1", baseTime+90_000)
	require.NoError(t, err)
	require.NotEqual(t, escrowID, id2)

	// Sequence numbers continue densely after restart.
	events := p2.History(0)
	for i, e := range events {
		require.Equal(t, uint64(i), e.Seq)
	}
	require.Greater(t, len(events), len(history))
}

func TestRestartEmptyStore(t *testing.T) {
	policy, err := fee.NewPolicy(250, feeRecipient)
	require.NoError(t, err)

	st := openStore(t, t.TempDir())
	defer st.Close()
	p, err := protocol.New(policy, protocol.WithStore(st))
	require.NoError(t, err)
	require.True(t, p.BalanceOf(payer).IsZero())
	require.Empty(t, p.History(0))
}
