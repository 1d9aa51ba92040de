package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// votingABI is the on-chain voting contract surface the engine depends on.
const votingABI = `[
  {"type":"function","name":"createPoll","stateMutability":"nonpayable","inputs":[{"name":"_question","type":"string"},{"name":"_options","type":"string[]"},{"name":"_durationInMinutes","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"_pollId","type":"uint256"},{"name":"_option","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getPoll","stateMutability":"view","inputs":[{"name":"_pollId","type":"uint256"}],"outputs":[{"name":"","type":"string"},{"name":"","type":"string[]"},{"name":"","type":"address"},{"name":"","type":"uint256"},{"name":"","type":"bool"},{"name":"","type":"uint256"}]},
  {"type":"function","name":"getPollResults","stateMutability":"view","inputs":[{"name":"_pollId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"hasVoted","stateMutability":"view","inputs":[{"name":"","type":"uint256"},{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"PollCreated","inputs":[{"name":"pollId","type":"uint256","indexed":false},{"name":"question","type":"string","indexed":false},{"name":"creator","type":"address","indexed":false},{"name":"endTime","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"Voted","inputs":[{"name":"pollId","type":"uint256","indexed":false},{"name":"voter","type":"address","indexed":false},{"name":"option","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"PollEnded","inputs":[{"name":"pollId","type":"uint256","indexed":false}],"anonymous":false}
]`

type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKeyHex   string
	ChainID         int64
	ConfirmTimeout  time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
}

// Client talks to the voting contract through a JSON-RPC node. All writes go
// through one relayer key, so transactions are serialized to keep nonce
// assignment deterministic.
type Client struct {
	contract *bind.BoundContract
	backend  *ethclient.Client
	parsed   abi.ABI
	opts     *bind.TransactOpts
	cfg      Config
	logger   *slog.Logger

	txMu sync.Mutex
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(votingABI))
	if err != nil {
		return nil, fmt.Errorf("parse voting abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	address := common.HexToAddress(cfg.ContractAddress)
	return &Client{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:  backend,
		parsed:   parsed,
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

func (c *Client) Close() {
	c.backend.Close()
}

func (c *Client) SubmitCreatePoll(
	ctx context.Context,
	question string,
	options []string,
	durationMinutes int64,
) (ports.CreatedPoll, error) {
	receipt, err := c.transact(ctx, "createPoll", question, options, big.NewInt(durationMinutes))
	if err != nil {
		return ports.CreatedPoll{}, err
	}
	ledgerID, err := c.pollIDFromReceipt(receipt)
	if err != nil {
		return ports.CreatedPoll{}, err
	}
	c.logger.Info("ledger poll created",
		"event", "ledger_poll_created",
		"module", "governance/poll-engine",
		"layer", "adapter",
		"ledger_id", ledgerID,
		"tx_ref", receipt.TxHash.Hex(),
	)
	return ports.CreatedPoll{LedgerID: ledgerID, TxRef: receipt.TxHash.Hex()}, nil
}

func (c *Client) SubmitVote(ctx context.Context, ledgerID uint64, optionIndex int, _ string) (string, error) {
	receipt, err := c.transact(ctx, "vote", new(big.Int).SetUint64(ledgerID), big.NewInt(int64(optionIndex)))
	if err != nil {
		return "", err
	}
	c.logger.Info("ledger vote confirmed",
		"event", "ledger_vote_confirmed",
		"module", "governance/poll-engine",
		"layer", "adapter",
		"ledger_id", ledgerID,
		"option_index", optionIndex,
		"tx_ref", receipt.TxHash.Hex(),
	)
	return receipt.TxHash.Hex(), nil
}

func (c *Client) ReadPoll(ctx context.Context, ledgerID uint64) (ports.LedgerPoll, error) {
	var out []any
	callOpts := &bind.CallOpts{Context: ctx}
	if err := c.contract.Call(callOpts, &out, "getPoll", new(big.Int).SetUint64(ledgerID)); err != nil {
		return ports.LedgerPoll{}, c.classify(err)
	}
	if len(out) != 6 {
		return ports.LedgerPoll{}, fmt.Errorf("getPoll returned %d values", len(out))
	}
	question, _ := out[0].(string)
	options, _ := out[1].([]string)
	creator, _ := out[2].(common.Address)
	endTime, _ := out[3].(*big.Int)
	active, _ := out[4].(bool)
	totalVotes, _ := out[5].(*big.Int)

	var tallyOut []any
	if err := c.contract.Call(callOpts, &tallyOut, "getPollResults", new(big.Int).SetUint64(ledgerID)); err != nil {
		return ports.LedgerPoll{}, c.classify(err)
	}
	rawTallies, _ := tallyOut[0].([]*big.Int)
	tallies := make([]uint64, len(rawTallies))
	for i, tally := range rawTallies {
		tallies[i] = tally.Uint64()
	}

	return ports.LedgerPoll{
		Question:   question,
		Options:    options,
		Tallies:    tallies,
		Creator:    creator.Hex(),
		EndTime:    time.Unix(endTime.Int64(), 0).UTC(),
		Active:     active,
		TotalVotes: totalVotes.Uint64(),
	}, nil
}

func (c *Client) HasVoted(ctx context.Context, ledgerID uint64, voter string) (bool, error) {
	var out []any
	callOpts := &bind.CallOpts{Context: ctx}
	err := c.contract.Call(callOpts, &out, "hasVoted", new(big.Int).SetUint64(ledgerID), common.HexToAddress(voter))
	if err != nil {
		return false, c.classify(err)
	}
	voted, _ := out[0].(bool)
	return voted, nil
}

// transact submits one contract write and waits for the receipt. Only the
// send phase retries with exponential backoff: once a transaction has been
// broadcast, resubmitting it could land the same operation twice, so any
// failure while waiting for confirmation surfaces as unavailability and the
// pending operation record is left for the sweeper to resolve against chain
// state. Reverts are terminal and surface as RejectionError.
func (c *Client) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	attempts := c.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var tx *types.Transaction
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sent, err := c.send(ctx, method, args...)
		if err == nil {
			tx = sent
			break
		}
		classified := c.classify(err)
		if errors.Is(classified, domainerrors.ErrLedgerRejected) {
			return nil, classified
		}
		lastErr = classified
		c.logger.Warn("ledger submission attempt failed",
			"event", "ledger_submit_retry",
			"module", "governance/poll-engine",
			"layer", "adapter",
			"method", method,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err.Error(),
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domainerrors.ErrLedgerUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if tx == nil {
		return nil, lastErr
	}

	waitCtx := ctx
	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, confirmWaitFailure(tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &domainerrors.RejectionError{Reason: fmt.Sprintf("transaction %s reverted", tx.Hash().Hex())}
	}
	return receipt, nil
}

// send broadcasts one transaction under the nonce mutex. Errors here mean the
// transaction was not accepted by the node, so resubmission is safe.
func (c *Client) send(ctx context.Context, method string, args ...any) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	opts := *c.opts
	opts.Context = ctx
	return c.contract.Transact(&opts, method, args...)
}

// confirmWaitFailure wraps a confirmation-wait error. The transaction is
// already in flight at this point, so the outcome is unknown rather than
// rejected; it must never be classified as a revert or retried.
func confirmWaitFailure(txHash common.Hash, err error) error {
	return fmt.Errorf("%w: confirmation wait for %s: %v", domainerrors.ErrLedgerUnavailable, txHash.Hex(), err)
}

func (c *Client) pollIDFromReceipt(receipt *types.Receipt) (uint64, error) {
	createdID := c.parsed.Events["PollCreated"].ID
	for _, logEntry := range receipt.Logs {
		if len(logEntry.Topics) == 0 || logEntry.Topics[0] != createdID {
			continue
		}
		values, err := c.parsed.Unpack("PollCreated", logEntry.Data)
		if err != nil {
			return 0, fmt.Errorf("decode PollCreated event: %w", err)
		}
		if len(values) == 0 {
			continue
		}
		pollID, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		return pollID.Uint64(), nil
	}
	return 0, fmt.Errorf("receipt %s carries no PollCreated event", receipt.TxHash.Hex())
}

// classify maps transport errors onto the engine's failure taxonomy. A revert
// means the contract saw and refused the call; everything else means we
// cannot know whether the call landed.
func (c *Client) classify(err error) error {
	var rejection *domainerrors.RejectionError
	if errors.As(err, &rejection) {
		return err
	}
	message := err.Error()
	if reason, ok := revertReason(message); ok {
		return &domainerrors.RejectionError{Reason: reason}
	}
	return fmt.Errorf("%w: %s", domainerrors.ErrLedgerUnavailable, message)
}

func revertReason(message string) (string, bool) {
	lowered := strings.ToLower(message)
	marker := "execution reverted"
	idx := strings.Index(lowered, marker)
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimSpace(strings.TrimPrefix(message[idx+len(marker):], ":"))
	if reason == "" {
		reason = "execution reverted"
	}
	return reason, true
}

var _ ports.Ledger = (*Client)(nil)
