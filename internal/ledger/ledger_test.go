package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"clearline/internal/domain"
	"clearline/internal/storage"
	"clearline/internal/storage/memory"
)

func testTxn(t *testing.T) storage.Txn {
	t.Helper()
	kv := memory.NewKV()
	t.Cleanup(func() { kv.Close() })
	txn, err := kv.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin txn: %v", err)
	}
	t.Cleanup(func() { txn.Discard() })
	return txn
}

func assetID(b byte) domain.AssetID {
	var id domain.AssetID
	id[0] = b
	return id
}

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestCreditDebit(t *testing.T) {
	ctx := context.Background()
	l := New(testTxn(t))

	asset, acct := assetID(1), addr(10)
	if err := l.Credit(ctx, asset, acct, amt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Debit(ctx, asset, acct, amt(200)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	bal, err := l.Balance(ctx, asset, acct)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Eq(amt(300)) {
		t.Fatalf("balance = %s, want 300", bal)
	}

	err = l.Debit(ctx, asset, acct, amt(301))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraft err = %v, want ErrInsufficientBalance", err)
	}
}

func TestExternalFlowsBuildPlan(t *testing.T) {
	ctx := context.Background()
	l := New(testTxn(t))

	asset := assetID(1)
	if err := l.CollectIn(ctx, asset, addr(10), amt(100), false); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := l.PayOut(ctx, asset, addr(11), amt(40), false); err != nil {
		t.Fatalf("payout: %v", err)
	}
	// Zero amounts must not produce transfers.
	if err := l.PayOut(ctx, asset, addr(12), amt(0), false); err != nil {
		t.Fatalf("zero payout: %v", err)
	}

	plan := l.Plan()
	if len(plan) != 2 {
		t.Fatalf("plan has %d transfers, want 2", len(plan))
	}
	if !plan[0].Inbound || !plan[0].Amount.Eq(amt(100)) || plan[0].Account != addr(10) {
		t.Fatalf("unexpected inbound transfer: %+v", plan[0])
	}
	if plan[1].Inbound || !plan[1].Amount.Eq(amt(40)) || plan[1].Account != addr(11) {
		t.Fatalf("unexpected outbound transfer: %+v", plan[1])
	}
}

func TestInternalFlowsSpendStagedBalance(t *testing.T) {
	ctx := context.Background()
	l := New(testTxn(t))

	asset, acct := assetID(1), addr(10)
	if err := l.Credit(ctx, asset, acct, amt(100)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := l.CollectIn(ctx, asset, acct, amt(60), true); err != nil {
		t.Fatalf("internal collect: %v", err)
	}
	err := l.CollectIn(ctx, asset, acct, amt(60), true)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("second collect err = %v, want ErrInsufficientBalance", err)
	}
	if len(l.Plan()) != 0 {
		t.Fatalf("internal flows must not plan transfers, got %d", len(l.Plan()))
	}
}

func reconcileAssets(take, save, settle uint64, id domain.AssetID) []domain.Asset {
	return []domain.Asset{{
		ID:     id,
		Save:   amt(save),
		Take:   amt(take),
		Settle: amt(settle),
	}}
}

func TestReconcileBalanced(t *testing.T) {
	ctx := context.Background()
	txn := testTxn(t)
	l := New(txn)

	asset := assetID(1)
	// User pays 100 externally, pool absorbs 95, 5 retained as fees.
	if err := l.CollectIn(ctx, asset, addr(10), amt(100), false); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := l.AccrueFee(asset, amt(5)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := l.Reconcile(ctx, reconcileAssets(0, 5, 95, asset)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	acc, err := AccruedFees(ctx, txn, asset)
	if err != nil {
		t.Fatalf("accrued fees: %v", err)
	}
	if !acc.Eq(amt(5)) {
		t.Fatalf("fee accumulator = %s, want 5", acc)
	}
}

func TestReconcileDetectsShortfall(t *testing.T) {
	ctx := context.Background()
	l := New(testTxn(t))

	asset := assetID(1)
	if err := l.PayOut(ctx, asset, addr(11), amt(50), false); err != nil {
		t.Fatalf("payout: %v", err)
	}
	// Pool only takes 40 against a 50 payout.
	err := l.Reconcile(ctx, reconcileAssets(40, 0, 0, asset))
	if !errors.Is(err, ErrInsolvent) {
		t.Fatalf("reconcile err = %v, want ErrInsolvent", err)
	}
}

func TestReconcileDetectsSaveMismatch(t *testing.T) {
	ctx := context.Background()
	l := New(testTxn(t))

	asset := assetID(1)
	if err := l.CollectIn(ctx, asset, addr(10), amt(10), false); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := l.AccrueFee(asset, amt(3)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	// Declared save of 2 does not match the 3 actually retained.
	err := l.Reconcile(ctx, reconcileAssets(0, 2, 7, asset))
	if !errors.Is(err, ErrInsolvent) {
		t.Fatalf("reconcile err = %v, want ErrInsolvent", err)
	}
}

func TestReconcileRejectsUndeclaredAsset(t *testing.T) {
	ctx := context.Background()
	l := New(testTxn(t))

	if err := l.CollectIn(ctx, assetID(9), addr(10), amt(1), false); err != nil {
		t.Fatalf("collect: %v", err)
	}
	err := l.Reconcile(ctx, reconcileAssets(0, 0, 1, assetID(1)))
	if !errors.Is(err, ErrInsolvent) {
		t.Fatalf("reconcile err = %v, want ErrInsolvent", err)
	}
}

type hookFunc func(ctx context.Context, l *Ledger, recipient domain.Address, payload []byte) ([4]byte, error)

func (f hookFunc) PostFill(ctx context.Context, l *Ledger, recipient domain.Address, payload []byte) ([4]byte, error) {
	return f(ctx, l, recipient, payload)
}

func TestDispatchHook(t *testing.T) {
	ctx := context.Background()
	l := New(testTxn(t))

	ok := hookFunc(func(context.Context, *Ledger, domain.Address, []byte) ([4]byte, error) {
		return HookAck, nil
	})
	if err := DispatchHook(ctx, l, ok, addr(1), []byte("payload")); err != nil {
		t.Fatalf("ack hook: %v", err)
	}

	bad := hookFunc(func(context.Context, *Ledger, domain.Address, []byte) ([4]byte, error) {
		return [4]byte{1, 2, 3, 4}, nil
	})
	if err := DispatchHook(ctx, l, bad, addr(1), nil); !errors.Is(err, ErrInvalidHookReturn) {
		t.Fatalf("bad marker err = %v, want ErrInvalidHookReturn", err)
	}

	if err := DispatchHook(ctx, l, nil, addr(1), nil); !errors.Is(err, ErrInvalidHookReturn) {
		t.Fatalf("nil hook err = %v, want ErrInvalidHookReturn", err)
	}
}

func TestMulDivX128(t *testing.T) {
	price := new(uint256.Int).Lsh(uint256.NewInt(2), 128) // 2.0

	out, err := MulX128(amt(100), price)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if !out.Eq(amt(200)) {
		t.Fatalf("100 * 2.0 = %s, want 200", out)
	}

	in, err := DivX128(amt(200), price)
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	if !in.Eq(amt(100)) {
		t.Fatalf("200 / 2.0 = %s, want 100", in)
	}

	if _, err := DivX128(amt(1), uint256.NewInt(0)); !errors.Is(err, ErrFullMulX128Failed) {
		t.Fatalf("zero price err = %v, want ErrFullMulX128Failed", err)
	}

	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	if _, err := MulX128(huge, price); !errors.Is(err, ErrFullMulX128Failed) {
		t.Fatalf("overflow err = %v, want ErrFullMulX128Failed", err)
	}
}

func TestPriceSatisfies(t *testing.T) {
	price2 := new(uint256.Int).Lsh(uint256.NewInt(2), 128)
	if !PriceSatisfies(amt(200), amt(100), price2) {
		t.Fatal("exact ratio should satisfy bound")
	}
	if PriceSatisfies(amt(199), amt(100), price2) {
		t.Fatal("below ratio should violate bound")
	}
	if !PriceSatisfies(amt(0), amt(0), price2) {
		t.Fatal("zero input trivially satisfies bound")
	}
}

func TestFeeAmount(t *testing.T) {
	if got := FeeAmount(amt(1_000_000), 2500); !got.Eq(amt(2500)) {
		t.Fatalf("fee = %s, want 2500", got)
	}
	if got := FeeAmount(amt(399), 2500); !got.IsZero() {
		t.Fatalf("sub-unit fee = %s, want 0", got)
	}
}
