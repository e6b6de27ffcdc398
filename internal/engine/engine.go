// Package engine executes signed order bundles: decode, validate,
// settle, reconcile, commit. A bundle either applies in full or leaves
// no trace.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"clearline/internal/configstore"
	"clearline/internal/domain"
	"clearline/internal/ledger"
	"clearline/internal/observability"
	"clearline/internal/storage"
	"clearline/internal/validation"
)

var (
	// ErrGasUsedAboveMax is returned when a priority order's charged gas
	// exceeds the signed maximum.
	ErrGasUsedAboveMax = errors.New("engine: gas used above signed maximum")

	// ErrExtraFeeAboveMax is returned when a user order's charged extra
	// fee exceeds the signed maximum.
	ErrExtraFeeAboveMax = errors.New("engine: extra fee above signed maximum")

	// ErrLimitViolated is returned when a fill would give the signer a
	// worse price than the order's limit.
	ErrLimitViolated = errors.New("engine: limit price violated")

	// ErrFillOutOfBounds is returned when a partial order's fill lies
	// outside its signed range.
	ErrFillOutOfBounds = errors.New("engine: fill outside signed bounds")

	// ErrNoPoolHook is returned when a bundle carries pool updates but
	// no pool collaborator is installed.
	ErrNoPoolHook = errors.New("engine: no pool hook installed")
)

// PoolHook applies a bundle's pool updates against external pool state.
// Flows it stages on the ledger count toward reconciliation like any
// other.
type PoolHook interface {
	ApplyUpdate(ctx context.Context, l *ledger.Ledger, upd domain.PoolUpdate, pair domain.Pair, assets []domain.Asset) error
}

// Custodian moves real tokens once a bundle has reconciled: pool legs
// first, then the per-account transfer plan.
type Custodian interface {
	Take(ctx context.Context, asset domain.AssetID, amount *uint256.Int) error
	Settle(ctx context.Context, asset domain.AssetID, amount *uint256.Int) error
	Transfer(ctx context.Context, t ledger.Transfer) error
}

// Options configures an Engine. State, Config and Validator are
// required; the rest are optional collaborators.
type Options struct {
	State     storage.KV
	Config    *configstore.Store
	Validator *validation.Validator
	FillHook  ledger.FillHook
	Pools     PoolHook
	Custodian Custodian
	Journal   storage.JournalStore
}

// Engine is the bundle executor. Bundles apply one at a time: state
// transactions do not detect write conflicts, so execution is
// serialized on the engine.
type Engine struct {
	mu        sync.Mutex
	state     storage.KV
	config    *configstore.Store
	validator *validation.Validator
	fillHook  ledger.FillHook
	pools     PoolHook
	custodian Custodian
	journal   storage.JournalStore
}

func New(opts Options) (*Engine, error) {
	if opts.State == nil {
		return nil, errors.New("engine: state store is required")
	}
	if opts.Config == nil {
		return nil, errors.New("engine: config store is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("engine: validator is required")
	}
	return &Engine{
		state:     opts.State,
		config:    opts.Config,
		validator: opts.Validator,
		fillHook:  opts.FillHook,
		pools:     opts.Pools,
		custodian: opts.Custodian,
		journal:   opts.Journal,
	}, nil
}

// ExecContext carries the execution environment of one bundle.
type ExecContext struct {
	Window    uint64
	ExecTime  time.Time
	Submitter domain.Address
}

// Report summarizes an applied bundle.
type Report struct {
	BundleHash     [32]byte
	PriorityOrders int
	UserOrders     int
	Transfers      []ledger.Transfer
}

// Execute applies one raw bundle. An empty submission is a no-op.
// On error no state has changed; the outcome is journaled either way.
func (e *Engine) Execute(ctx context.Context, raw []byte, ec ExecContext) (*Report, error) {
	if len(raw) == 0 {
		return &Report{}, nil
	}
	start := time.Now()
	hash := sha256.Sum256(raw)

	rep, err := e.execute(ctx, raw, hash, ec)
	elapsed := time.Since(start)

	rec := &domain.BundleRecord{
		Window:     ec.Window,
		BundleHash: hex.EncodeToString(hash[:]),
		Submitter:  ec.Submitter.String(),
		Status:     domain.BundleStatusApplied,
		CreatedAt:  ec.ExecTime.UnixMilli(),
	}
	if err != nil {
		rec.Status = domain.BundleStatusRejected
		rec.Reason = err.Error()
		observability.RecordBundleRejected(rejectReason(err), elapsed.Seconds())
		log.Printf("[engine] rejected bundle %s window %d: %v", rec.BundleHash[:12], ec.Window, err)
	} else {
		rec.PriorityOrders = rep.PriorityOrders
		rec.UserOrders = rep.UserOrders
		observability.RecordBundleApplied(ec.Window, rep.PriorityOrders, rep.UserOrders,
			elapsed.Seconds(), ec.ExecTime.Unix())
		observability.RecordTransfersPlanned(len(rep.Transfers))
		log.Printf("[engine] applied bundle %s window %d: %d priority, %d user orders in %s",
			rec.BundleHash[:12], ec.Window, rep.PriorityOrders, rep.UserOrders, elapsed)
	}
	e.writeJournal(ctx, rec)
	return rep, err
}

func (e *Engine) execute(ctx context.Context, raw []byte, hash [32]byte, ec ExecContext) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bundle, err := domain.DecodeBundle(raw)
	if err != nil {
		return nil, err
	}

	txn, err := e.state.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	l := ledger.New(txn)
	guard := validation.NewGuard(txn)

	entries, err := e.resolvePairs(bundle)
	if err != nil {
		return nil, err
	}

	for i := range bundle.PoolUpdates {
		upd := &bundle.PoolUpdates[i]
		if int(upd.PairIndex) >= len(bundle.Pairs) {
			return nil, fmt.Errorf("pool update %d: %w: pair %d of %d",
				i, domain.ErrPairIndexOutOfRange, upd.PairIndex, len(bundle.Pairs))
		}
		if e.pools == nil {
			return nil, ErrNoPoolHook
		}
		if err := e.pools.ApplyUpdate(ctx, l, *upd, bundle.Pairs[upd.PairIndex], bundle.Assets); err != nil {
			return nil, fmt.Errorf("pool update %d: %w", i, err)
		}
	}

	for i := range bundle.TopOfBlock {
		if err := e.settleTopOfBlock(ctx, l, guard, &bundle.TopOfBlock[i], bundle, ec); err != nil {
			return nil, fmt.Errorf("priority order %d: %w", i, err)
		}
	}
	for i := range bundle.UserOrders {
		o := &bundle.UserOrders[i]
		if int(o.PairIndex) >= len(bundle.Pairs) {
			return nil, fmt.Errorf("user order %d: %w: pair %d of %d",
				i, domain.ErrPairIndexOutOfRange, o.PairIndex, len(bundle.Pairs))
		}
		if err := e.settleUserOrder(ctx, l, guard, o, entries[o.PairIndex], bundle, ec); err != nil {
			return nil, fmt.Errorf("user order %d: %w", i, err)
		}
	}

	if err := l.Reconcile(ctx, bundle.Assets); err != nil {
		return nil, err
	}
	if err := e.moveFunds(ctx, bundle.Assets, l.Plan()); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, err
	}
	return &Report{
		BundleHash:     hash,
		PriorityOrders: len(bundle.TopOfBlock),
		UserOrders:     len(bundle.UserOrders),
		Transfers:      l.Plan(),
	}, nil
}

// resolvePairs looks up every pair's configuration entry and verifies
// the claimed store index against the derived key.
func (e *Engine) resolvePairs(b *domain.Bundle) ([]configstore.Entry, error) {
	entries := make([]configstore.Entry, len(b.Pairs))
	for i := range b.Pairs {
		p := &b.Pairs[i]
		a0, a1, err := p.Assets(b.Assets)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		entry := e.config.GetWithDefaultEmpty(configstore.DeriveKey(a0, a1), int(p.StoreIndex))
		if entry.IsEmpty() {
			return nil, fmt.Errorf("pair %d: %w: store index %d", i, configstore.ErrNoEntry, p.StoreIndex)
		}
		entries[i] = entry
	}
	return entries, nil
}

// moveFunds hands the pool legs and the transfer plan to the custodian.
// Without one the engine runs in library mode and only tracks state.
func (e *Engine) moveFunds(ctx context.Context, assets []domain.Asset, plan []ledger.Transfer) error {
	if e.custodian == nil {
		return nil
	}
	for i := range assets {
		if !assets[i].Take.IsZero() {
			if err := e.custodian.Take(ctx, assets[i].ID, assets[i].Take); err != nil {
				return fmt.Errorf("take leg for asset %x: %w", assets[i].ID[:8], err)
			}
		}
	}
	for _, t := range plan {
		if err := e.custodian.Transfer(ctx, t); err != nil {
			return fmt.Errorf("transfer to %s: %w", t.Account, err)
		}
	}
	for i := range assets {
		if !assets[i].Settle.IsZero() {
			if err := e.custodian.Settle(ctx, assets[i].ID, assets[i].Settle); err != nil {
				return fmt.Errorf("settle leg for asset %x: %w", assets[i].ID[:8], err)
			}
		}
	}
	return nil
}

func (e *Engine) writeJournal(ctx context.Context, rec *domain.BundleRecord) {
	if e.journal == nil {
		return
	}
	err := e.journal.Insert(ctx, rec)
	if errors.Is(err, storage.ErrDuplicateKey) {
		log.Printf("[engine] journal already has bundle %s for window %d", rec.BundleHash[:12], rec.Window)
		return
	}
	if err != nil {
		log.Printf("[engine] failed to journal bundle %s: %v", rec.BundleHash[:12], err)
	}
}

// rejectReason maps an execution error to a bounded metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrGasUsedAboveMax):
		return "gas_above_max"
	case errors.Is(err, ErrExtraFeeAboveMax):
		return "extra_fee_above_max"
	case errors.Is(err, ErrLimitViolated):
		return "limit_violated"
	case errors.Is(err, ErrFillOutOfBounds):
		return "fill_out_of_bounds"
	case errors.Is(err, validation.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, validation.ErrDeadlineExpired):
		return "deadline_expired"
	case errors.Is(err, validation.ErrAlreadyInvalidated),
		errors.Is(err, validation.ErrNonceAlreadyUsed):
		return "replay"
	case errors.Is(err, configstore.ErrNoEntry):
		return "no_config_entry"
	case errors.Is(err, ledger.ErrInsolvent):
		return "insolvent"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "other"
	}
}
