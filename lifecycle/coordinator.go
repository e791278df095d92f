// Package lifecycle moves transaction envelopes from submission through
// pool admission to block inclusion and records a receipt for each.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/monitor"
	"github.com/govm-net/cvm/types"
)

var (
	ErrRejected  = errors.New("transaction rejected")
	ErrTxExists  = errors.New("transaction already known")
	ErrPoolFull  = errors.New("transaction pool is full")
	ErrFeeTooLow = errors.New("fee below minimum")
	ErrStopped   = errors.New("coordinator stopped")
)

const (
	DefaultMaxPoolSize = 10000
	DefaultMaxBlockTxs = 1000
	DefaultChannelSize = 1024
	DefaultAddTimeout  = time.Second
)

// Engine is the part of the execution engine the coordinator drives.
type Engine interface {
	Invoke(ctx context.Context, req api.Request) (*types.InvocationResult, error)
	SetHead(b *core.Block)
	PutReceipt(r *types.Receipt) error
	Receipt(hash core.Hash) (*types.Receipt, bool, error)
}

// Config configures a Coordinator.
type Config struct {
	MinFee      *big.Int      `json:"min_fee"`
	MaxPoolSize int           `json:"max_pool_size"`
	MaxBlockTxs int           `json:"max_block_txs"`
	ChannelSize int           `json:"channel_size"`
	AddTimeout  time.Duration `json:"add_timeout"`

	Logger *slog.Logger `json:"-"`
}

// DefaultConfig returns a configuration without a minimum fee.
func DefaultConfig() *Config {
	return &Config{
		MaxPoolSize: DefaultMaxPoolSize,
		MaxBlockTxs: DefaultMaxBlockTxs,
		ChannelSize: DefaultChannelSize,
		AddTimeout:  DefaultAddTimeout,
	}
}

// Coordinator admits envelopes asynchronously and includes pooled ones in
// blocks on demand.
type Coordinator struct {
	config   *Config
	engine   Engine
	verifier Verifier
	logger   *slog.Logger
	metrics  *monitor.LifecycleMetrics

	pool    *txPool
	admitCh chan *Ticket
	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup

	produceMu sync.Mutex
}

// NewCoordinator creates a coordinator. A nil verifier checks secp256k1
// signatures.
func NewCoordinator(engine Engine, verifier Verifier, config *Config) (*Coordinator, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MinFee != nil && config.MinFee.Sign() < 0 {
		return nil, fmt.Errorf("invalid min fee: %s", config.MinFee)
	}
	if config.ChannelSize <= 0 {
		config.ChannelSize = DefaultChannelSize
	}
	if config.AddTimeout <= 0 {
		config.AddTimeout = DefaultAddTimeout
	}
	if verifier == nil {
		verifier = SignatureVerifier{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		config:   config,
		engine:   engine,
		verifier: verifier,
		logger:   logger.With("module", "lifecycle"),
		metrics:  monitor.NewLifecycleMetrics(),
		pool:     newTxPool(config.MaxPoolSize),
		admitCh:  make(chan *Ticket, config.ChannelSize),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs the admission loop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.listen()
}

// Stop ends the admission loop. Envelopes still queued for admission are
// rejected.
func (c *Coordinator) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return ErrStopped
	}
	close(c.stopCh)
	c.wg.Wait()
	for {
		select {
		case t := <-c.admitCh:
			c.reject(t, ErrStopped)
		default:
			c.logger.Info("Coordinator stopped")
			return nil
		}
	}
}

func (c *Coordinator) listen() {
	defer c.wg.Done()
	for {
		select {
		case t := <-c.admitCh:
			c.admit(t)
		case <-c.stopCh:
			return
		}
	}
}

// Submit validates env locally and queues it for admission. The returned
// ticket has already reached LevelBroadcast.
func (c *Coordinator) Submit(env *types.Envelope) (*Ticket, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	if err := validateEnvelope(env); err != nil {
		return nil, err
	}
	hash, err := env.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}

	// admission decides trust, never the submitter
	own := *env
	own.Verified = false
	own.Signers = nil

	t := newTicket(hash, &own)
	timer := time.NewTimer(c.config.AddTimeout)
	defer timer.Stop()
	select {
	case c.admitCh <- t:
	case <-timer.C:
		c.logger.Warn("Add transaction timeout", "tx", hash)
		return nil, fmt.Errorf("add transaction %s: timeout", hash)
	}
	monitor.MetricCounterInc(c.metrics.Transactions, types.TxSubmitted.String())
	c.logger.Debug("Transaction submitted", "tx", hash, "contract", env.Contract, "method", env.Method)
	return t, nil
}

func validateEnvelope(env *types.Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: envelope is nil", core.ErrInvalidArgument)
	}
	if env.Contract.IsZero() {
		return fmt.Errorf("%w: target contract is missing", core.ErrInvalidArgument)
	}
	if env.Method == "" {
		return fmt.Errorf("%w: method is missing", core.ErrInvalidArgument)
	}
	if env.Value != nil && env.Value.Sign() < 0 {
		return core.ErrNegativeValue
	}
	if env.Fee != nil && env.Fee.Sign() < 0 {
		return fmt.Errorf("%w: negative fee", core.ErrInvalidArgument)
	}
	if _, err := core.Normalize(env.Args); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidArgumentType, err)
	}
	return nil
}

func (c *Coordinator) admit(t *Ticket) {
	env := t.Envelope
	signers, err := c.verifier.Verify(env)
	if err != nil {
		c.reject(t, err)
		return
	}
	if minFee := c.config.MinFee; minFee != nil && minFee.Sign() > 0 {
		if env.Fee == nil || env.Fee.Cmp(minFee) < 0 {
			c.reject(t, fmt.Errorf("%w: %s < %s", ErrFeeTooLow, bigString(env.Fee), minFee))
			return
		}
	}
	if c.pool.has(t.Hash) {
		c.reject(t, ErrTxExists)
		return
	}
	if _, found, err := c.engine.Receipt(t.Hash); err != nil {
		c.reject(t, err)
		return
	} else if found {
		c.reject(t, ErrTxExists)
		return
	}

	env.Verified = true
	env.Signers = signers
	if err := c.pool.put(t); err != nil {
		env.Verified = false
		env.Signers = nil
		c.reject(t, err)
		return
	}
	t.accept()
	monitor.MetricCounterInc(c.metrics.Transactions, types.TxPoolAccepted.String())
	monitor.MetricGaugeSet(c.metrics.PoolSize, float64(c.pool.size()))
	c.logger.Debug("Transaction accepted", "tx", t.Hash, "signers", len(signers))
}

func (c *Coordinator) reject(t *Ticket, err error) {
	t.reject(err.Error())
	monitor.MetricCounterInc(c.metrics.Transactions, types.TxRejected.String())
	c.logger.Info("Transaction rejected", "tx", t.Hash, "reason", err)
}

// PoolSize returns the number of admitted transactions awaiting inclusion.
func (c *Coordinator) PoolSize() int {
	return c.pool.size()
}

// ProduceBlock includes up to MaxBlockTxs pooled transactions, oldest
// first, executing each against header. Every included transaction gets a
// receipt, rolled back ones included.
func (c *Coordinator) ProduceBlock(ctx context.Context, header *core.Block) ([]*types.Receipt, error) {
	if header == nil {
		return nil, fmt.Errorf("%w: block header is nil", core.ErrInvalidArgument)
	}
	c.produceMu.Lock()
	defer c.produceMu.Unlock()

	c.engine.SetHead(header)
	tickets := c.pool.fetch(c.config.MaxBlockTxs)
	receipts := make([]*types.Receipt, 0, len(tickets))
	for i, t := range tickets {
		if err := ctx.Err(); err != nil {
			c.pool.requeue(tickets[i:])
			return receipts, err
		}
		r, err := c.include(ctx, header, i, t)
		if err != nil {
			c.pool.requeue(tickets[i+1:])
			return receipts, err
		}
		receipts = append(receipts, r)
	}

	monitor.MetricObserve(c.metrics.BlockTxs, float64(len(receipts)))
	monitor.MetricGaugeSet(c.metrics.PoolSize, float64(c.pool.size()))
	c.logger.Info("Block produced", "height", header.Height, "txs", len(receipts))
	return receipts, nil
}

func (c *Coordinator) include(ctx context.Context, header *core.Block, index int, t *Ticket) (*types.Receipt, error) {
	defer c.pool.remove(t.Hash)

	env := t.Envelope
	res, _ := c.engine.Invoke(ctx, api.Request{
		Contract: env.Contract,
		Method:   env.Method,
		Args:     env.Args,
		Envelope: env,
		Header:   header,
	})

	r := &types.Receipt{
		TxHash: t.Hash,
		Height: header.Height,
		Index:  index,
		Status: types.TxRolledBack,
		Result: res,
	}
	if res != nil {
		if res.Success {
			r.Status = types.TxSucceeded
		} else {
			r.Reason = res.Reason
		}
	}
	if err := c.engine.PutReceipt(r); err != nil {
		return nil, fmt.Errorf("store receipt %s: %w", t.Hash, err)
	}
	t.include(r)
	monitor.MetricCounterInc(c.metrics.Transactions, r.Status.String())
	c.logger.Debug("Transaction included", "tx", t.Hash, "height", header.Height, "status", r.Status, "reason", r.Reason)
	return r, nil
}

// Receipt loads the receipt of an included transaction.
func (c *Coordinator) Receipt(hash core.Hash) (*types.Receipt, bool, error) {
	return c.engine.Receipt(hash)
}

func bigString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
