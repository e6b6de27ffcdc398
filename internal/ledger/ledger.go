package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"clearline/internal/domain"
	"clearline/internal/storage"
)

var (
	// ErrInsufficientBalance is returned when an internal debit exceeds
	// the account's staged balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient internal balance")

	// ErrInsolvent is returned when an asset's declared pool legs and
	// fee retention do not cover the flows settled against it.
	ErrInsolvent = errors.New("ledger: asset flows do not reconcile")
)

const (
	balancePrefix = "balance/"
	feePrefix     = "fees/"
)

// Transfer is one external token movement owed after a bundle commits.
// Inbound transfers collect from the account, outbound ones pay it.
type Transfer struct {
	Asset   domain.AssetID
	Account domain.Address
	Amount  *uint256.Int
	Inbound bool
}

// assetFlows accumulates the per-asset sums Reconcile checks.
type assetFlows struct {
	extIn  *uint256.Int // external collections
	extOut *uint256.Int // external payouts
	credit *uint256.Int // internal balance credits
	debit  *uint256.Int // internal balance debits
	fees   *uint256.Int // gas and fee retention
}

func newAssetFlows() *assetFlows {
	return &assetFlows{
		extIn:  uint256.NewInt(0),
		extOut: uint256.NewInt(0),
		credit: uint256.NewInt(0),
		debit:  uint256.NewInt(0),
		fees:   uint256.NewInt(0),
	}
}

// Ledger stages all balance movements of one bundle inside a single
// state transaction. Nothing leaves the transaction until the caller
// reconciles and commits; a failed bundle discards every staged write.
type Ledger struct {
	txn   storage.Txn
	flows map[domain.AssetID]*assetFlows
	plan  []Transfer
}

func New(txn storage.Txn) *Ledger {
	return &Ledger{
		txn:   txn,
		flows: make(map[domain.AssetID]*assetFlows),
	}
}

func balanceKey(asset domain.AssetID, account domain.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+64)
	key = append(key, balancePrefix...)
	key = append(key, asset[:]...)
	key = append(key, account[:]...)
	return key
}

func feeKey(asset domain.AssetID) []byte {
	key := make([]byte, 0, len(feePrefix)+32)
	key = append(key, feePrefix...)
	key = append(key, asset[:]...)
	return key
}

func (l *Ledger) readAmount(ctx context.Context, key []byte) (*uint256.Int, error) {
	raw, err := l.txn.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("ledger: malformed amount record of %d bytes", len(raw))
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func (l *Ledger) writeAmount(ctx context.Context, key []byte, amount *uint256.Int) error {
	buf := amount.Bytes32()
	return l.txn.Set(ctx, key, buf[:])
}

// Balance reads the staged internal balance of an account in an asset.
func (l *Ledger) Balance(ctx context.Context, asset domain.AssetID, account domain.Address) (*uint256.Int, error) {
	return l.readAmount(ctx, balanceKey(asset, account))
}

func (l *Ledger) asset(id domain.AssetID) *assetFlows {
	f, ok := l.flows[id]
	if !ok {
		f = newAssetFlows()
		l.flows[id] = f
	}
	return f
}

// Credit adds to an account's internal balance.
func (l *Ledger) Credit(ctx context.Context, asset domain.AssetID, account domain.Address, amount *uint256.Int) error {
	bal, err := l.Balance(ctx, asset, account)
	if err != nil {
		return err
	}
	next, err := checkedAdd(bal, amount)
	if err != nil {
		return err
	}
	return l.writeAmount(ctx, balanceKey(asset, account), next)
}

// Debit removes from an account's internal balance.
func (l *Ledger) Debit(ctx context.Context, asset domain.AssetID, account domain.Address, amount *uint256.Int) error {
	bal, err := l.Balance(ctx, asset, account)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	return l.writeAmount(ctx, balanceKey(asset, account), new(uint256.Int).Sub(bal, amount))
}

// CollectIn takes amount of asset from the account. Internal orders
// spend staged balance; external ones add an inbound transfer to the
// settlement plan.
func (l *Ledger) CollectIn(ctx context.Context, asset domain.AssetID, from domain.Address, amount *uint256.Int, internal bool) error {
	if amount.IsZero() {
		return nil
	}
	f := l.asset(asset)
	if internal {
		if err := l.Debit(ctx, asset, from, amount); err != nil {
			return err
		}
		sum, err := checkedAdd(f.debit, amount)
		if err != nil {
			return err
		}
		f.debit = sum
		return nil
	}
	sum, err := checkedAdd(f.extIn, amount)
	if err != nil {
		return err
	}
	f.extIn = sum
	l.plan = append(l.plan, Transfer{Asset: asset, Account: from, Amount: amount.Clone(), Inbound: true})
	return nil
}

// PayOut delivers amount of asset to the account. Internal orders
// receive staged balance; external ones add an outbound transfer to
// the settlement plan.
func (l *Ledger) PayOut(ctx context.Context, asset domain.AssetID, to domain.Address, amount *uint256.Int, internal bool) error {
	if amount.IsZero() {
		return nil
	}
	f := l.asset(asset)
	if internal {
		if err := l.Credit(ctx, asset, to, amount); err != nil {
			return err
		}
		sum, err := checkedAdd(f.credit, amount)
		if err != nil {
			return err
		}
		f.credit = sum
		return nil
	}
	sum, err := checkedAdd(f.extOut, amount)
	if err != nil {
		return err
	}
	f.extOut = sum
	l.plan = append(l.plan, Transfer{Asset: asset, Account: to, Amount: amount.Clone(), Inbound: false})
	return nil
}

// AccrueFee records fee or gas retention in an asset.
func (l *Ledger) AccrueFee(asset domain.AssetID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	f := l.asset(asset)
	sum, err := checkedAdd(f.fees, amount)
	if err != nil {
		return err
	}
	f.fees = sum
	return nil
}

// Fees reports the retention accrued so far in an asset.
func (l *Ledger) Fees(asset domain.AssetID) *uint256.Int {
	f, ok := l.flows[asset]
	if !ok {
		return uint256.NewInt(0)
	}
	return f.fees.Clone()
}

// Plan returns the external transfers staged so far, in settlement
// order.
func (l *Ledger) Plan() []Transfer {
	return l.plan
}

// Reconcile checks every touched asset against its declared pool legs:
//
//	take + external in + internal debits ==
//	settle + external out + internal credits + save
//
// and requires the declared save to equal the retention actually
// accrued. On success the accrued fees are folded into the persistent
// fee accumulator inside the transaction.
func (l *Ledger) Reconcile(ctx context.Context, assets []domain.Asset) error {
	declared := make(map[domain.AssetID]*domain.Asset, len(assets))
	for i := range assets {
		declared[assets[i].ID] = &assets[i]
	}
	for id := range l.flows {
		if _, ok := declared[id]; !ok {
			return fmt.Errorf("%w: flows in undeclared asset %x", ErrInsolvent, id[:8])
		}
	}
	for i := range assets {
		a := &assets[i]
		f, ok := l.flows[a.ID]
		if !ok {
			f = newAssetFlows()
		}
		if f.fees.Cmp(a.Save) != 0 {
			return fmt.Errorf("%w: asset %x declared save %s, accrued %s",
				ErrInsolvent, a.ID[:8], a.Save, f.fees)
		}
		sources := new(uint256.Int).Add(a.Take, f.extIn)
		sources.Add(sources, f.debit)
		sinks := new(uint256.Int).Add(a.Settle, f.extOut)
		sinks.Add(sinks, f.credit)
		sinks.Add(sinks, f.fees)
		if sources.Cmp(sinks) != 0 {
			return fmt.Errorf("%w: asset %x sources %s != sinks %s",
				ErrInsolvent, a.ID[:8], sources, sinks)
		}
		if !f.fees.IsZero() {
			acc, err := l.readAmount(ctx, feeKey(a.ID))
			if err != nil {
				return err
			}
			next, err := checkedAdd(acc, f.fees)
			if err != nil {
				return err
			}
			if err := l.writeAmount(ctx, feeKey(a.ID), next); err != nil {
				return err
			}
		}
	}
	return nil
}

// AccruedFees reads the persistent fee accumulator for an asset
// through a transaction. Admin fee pulls reset it via ResetFees.
func AccruedFees(ctx context.Context, txn storage.Txn, asset domain.AssetID) (*uint256.Int, error) {
	l := &Ledger{txn: txn}
	return l.readAmount(ctx, feeKey(asset))
}

// ResetFees zeroes the persistent fee accumulator for an asset.
func ResetFees(ctx context.Context, txn storage.Txn, asset domain.AssetID) error {
	return txn.Delete(ctx, feeKey(asset))
}
