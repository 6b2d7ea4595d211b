package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-monitor/internal/retry"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// OnchainOptions parameterise the on-chain price feed fetcher.
type OnchainOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
	Retry   retry.Policy
}

// Onchain reads USD price feeds over Ethereum RPC. Each watched ticker maps
// to a Chainlink-style aggregator contract address.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	retry     retry.Policy
	client    *ethclient.Client
	clientMux sync.Mutex

	decimalsMux sync.Mutex
	decimals    map[string]int32
}

// NewOnchain builds a new on-chain price fetcher.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.NewPolicy(3, 2*time.Second, 30*time.Second, 0.2)
	}
	policy = policy.WithRetryable(isRetryableOnchain)

	return &Onchain{
		opts:     opts,
		logger:   logger.With().Str("component", "onchain_fetcher").Logger(),
		retry:    policy,
		decimals: make(map[string]int32),
	}
}

// GetPrice reads the latest round of the ticker's aggregator feed. Transient
// RPC failures are retried in here; unconfigured feeds surface immediately.
func (o *Onchain) GetPrice(ctx context.Context, ticker string) (Quote, error) {
	if o.opts.RPCURL == "" {
		return Quote{}, errors.New("ethereum rpc url not configured")
	}

	feed, ok := o.opts.Feeds[ticker]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no feed configured for %s", ErrUnknownTicker, ticker)
	}

	var quote Quote
	err := o.retry.Do(ctx, func() error {
		var fetchErr error
		quote, fetchErr = o.fetchOnce(ctx, ticker, feed)
		return fetchErr
	})
	if err != nil {
		return Quote{}, err
	}
	return quote, nil
}

func (o *Onchain) fetchOnce(ctx context.Context, ticker, feed string) (Quote, error) {
	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return Quote{}, err
	}

	addr := common.HexToAddress(feed)

	exp, err := o.feedDecimals(ctx, client, ticker, addr)
	if err != nil {
		return Quote{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Quote{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Quote{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Quote{}, err
	}
	if len(outputs) != 5 {
		return Quote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData updatedAt")
	}

	price := decimal.NewFromBigInt(answer, -exp)
	if !price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s for %s", ErrInvalidPrice, price.String(), ticker)
	}

	return Quote{
		Price:      price,
		ObservedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

// isRetryableOnchain treats any RPC fault as transient. Bad feed data and
// caller cancellation surface immediately.
func isRetryableOnchain(err error) bool {
	switch {
	case errors.Is(err, ErrUnknownTicker), errors.Is(err, ErrInvalidPrice):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (o *Onchain) feedDecimals(ctx context.Context, client *ethclient.Client, ticker string, addr common.Address) (int32, error) {
	o.decimalsMux.Lock()
	if exp, ok := o.decimals[ticker]; ok {
		o.decimalsMux.Unlock()
		return exp, nil
	}
	o.decimalsMux.Unlock()

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}

	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}

	value, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	exp := int32(value)
	o.decimalsMux.Lock()
	o.decimals[ticker] = exp
	o.decimalsMux.Unlock()
	return exp, nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ PriceSource = (*Onchain)(nil)
