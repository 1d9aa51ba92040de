package ethereum

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	domainerrors "agora/contexts/governance/poll-engine/domain/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func parsedABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(votingABI))
	require.NoError(t, err)
	return parsed
}

func TestVotingABIParses(t *testing.T) {
	parsed := parsedABI(t)
	require.Contains(t, parsed.Methods, "createPoll")
	require.Contains(t, parsed.Methods, "vote")
	require.Contains(t, parsed.Methods, "getPoll")
	require.Contains(t, parsed.Methods, "getPollResults")
	require.Contains(t, parsed.Methods, "hasVoted")
	require.Contains(t, parsed.Events, "PollCreated")
}

func TestClassifyRevertBecomesRejection(t *testing.T) {
	client := &Client{parsed: parsedABI(t)}

	err := client.classify(errors.New("execution reverted: Already voted"))

	require.ErrorIs(t, err, domainerrors.ErrLedgerRejected)
	var rejection *domainerrors.RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, "Already voted", rejection.Reason)
}

func TestClassifyTransportFailureBecomesUnavailable(t *testing.T) {
	client := &Client{parsed: parsedABI(t)}

	err := client.classify(errors.New("dial tcp 127.0.0.1:8545: connection refused"))

	require.ErrorIs(t, err, domainerrors.ErrLedgerUnavailable)
	require.NotErrorIs(t, err, domainerrors.ErrLedgerRejected)
}

func TestClassifyKeepsExistingRejection(t *testing.T) {
	client := &Client{parsed: parsedABI(t)}
	original := &domainerrors.RejectionError{Reason: "poll has ended"}

	err := client.classify(original)

	require.ErrorIs(t, err, domainerrors.ErrLedgerRejected)
}

func TestPollIDFromReceipt(t *testing.T) {
	parsed := parsedABI(t)
	client := &Client{parsed: parsed}

	event := parsed.Events["PollCreated"]
	data, err := event.Inputs.Pack(
		big.NewInt(42),
		"Coffee or tea?",
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		big.NewInt(1_900_000_000),
	)
	require.NoError(t, err)

	receipt := &types.Receipt{
		TxHash: common.HexToHash("0x01"),
		Logs: []*types.Log{
			{Topics: []common.Hash{common.HexToHash("0xdead")}},
			{Topics: []common.Hash{event.ID}, Data: data},
		},
	}

	ledgerID, err := client.pollIDFromReceipt(receipt)
	require.NoError(t, err)
	require.Equal(t, uint64(42), ledgerID)
}

func TestPollIDFromReceiptMissingEvent(t *testing.T) {
	client := &Client{parsed: parsedABI(t)}

	_, err := client.pollIDFromReceipt(&types.Receipt{TxHash: common.HexToHash("0x02")})
	require.Error(t, err)
}

func TestConfirmWaitFailureIsUnavailable(t *testing.T) {
	txHash := common.HexToHash("0x03")

	err := confirmWaitFailure(txHash, errors.New("context deadline exceeded"))

	require.ErrorIs(t, err, domainerrors.ErrLedgerUnavailable)
	require.NotErrorIs(t, err, domainerrors.ErrLedgerRejected)
	require.Contains(t, err.Error(), txHash.Hex())
}

func TestRevertReasonParsing(t *testing.T) {
	reason, ok := revertReason("rpc error: execution reverted: Voting period is over")
	require.True(t, ok)
	require.Equal(t, "Voting period is over", reason)

	reason, ok = revertReason("execution reverted")
	require.True(t, ok)
	require.Equal(t, "execution reverted", reason)

	_, ok = revertReason("connection reset by peer")
	require.False(t, ok)
}
