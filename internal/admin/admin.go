// Package admin implements the governance surface: controller
// hand-over, node authorization, pair configuration and protocol fee
// pulls. Every mutating call is gated on the current controller.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/holiman/uint256"

	"clearline/internal/configstore"
	"clearline/internal/domain"
	"clearline/internal/ledger"
	"clearline/internal/observability"
	"clearline/internal/storage"
)

var (
	// ErrNotController is returned when a governance call does not come
	// from the current controller.
	ErrNotController = errors.New("admin: caller is not the controller")

	// ErrNotPendingController is returned when an accept call does not
	// come from the pending controller.
	ErrNotPendingController = errors.New("admin: caller is not the pending controller")

	// ErrUnknownPair is returned when a pair operation names a pair the
	// store has no entry for.
	ErrUnknownPair = errors.New("admin: unknown pair")

	// ErrControllerSet is returned when initializing an already
	// initialized deployment.
	ErrControllerSet = errors.New("admin: controller already set")
)

var (
	controllerKey        = []byte("admin/controller")
	pendingControllerKey = []byte("admin/pending_controller")
	nodePrefix           = "admin/node/"
)

// Admin mediates governance state in the KV store and rebuilds the
// pair configuration store on changes.
type Admin struct {
	kv     storage.KV
	config *configstore.Store
}

func New(kv storage.KV, config *configstore.Store) *Admin {
	return &Admin{kv: kv, config: config}
}

func nodeKey(node domain.Address) []byte {
	key := make([]byte, 0, len(nodePrefix)+32)
	key = append(key, nodePrefix...)
	key = append(key, node[:]...)
	return key
}

// Init sets the first controller. Fails once one exists.
func (a *Admin) Init(ctx context.Context, controller domain.Address) error {
	txn, err := a.kv.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Discard()

	_, err = txn.Get(ctx, controllerKey)
	if err == nil {
		return ErrControllerSet
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := txn.Set(ctx, controllerKey, controller[:]); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// Controller returns the current controller address.
func (a *Admin) Controller(ctx context.Context) (domain.Address, error) {
	raw, err := a.kv.Get(ctx, controllerKey)
	if err != nil {
		return domain.Address{}, err
	}
	var addr domain.Address
	copy(addr[:], raw)
	return addr, nil
}

func (a *Admin) requireController(ctx context.Context, txn storage.Txn, caller domain.Address) error {
	raw, err := txn.Get(ctx, controllerKey)
	if err != nil {
		return err
	}
	if len(raw) != 32 || domain.Address(raw) != caller {
		return fmt.Errorf("%w: %s", ErrNotController, caller)
	}
	return nil
}

// TransferController nominates the next controller. The hand-over
// completes only when the nominee accepts.
func (a *Admin) TransferController(ctx context.Context, caller, next domain.Address) error {
	txn, err := a.kv.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Discard()

	if err := a.requireController(ctx, txn, caller); err != nil {
		return err
	}
	if err := txn.Set(ctx, pendingControllerKey, next[:]); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	log.Printf("[admin] controller transfer to %s pending", next)
	return nil
}

// AcceptController completes a pending controller hand-over.
func (a *Admin) AcceptController(ctx context.Context, caller domain.Address) error {
	txn, err := a.kv.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Discard()

	raw, err := txn.Get(ctx, pendingControllerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotPendingController
	}
	if err != nil {
		return err
	}
	if len(raw) != 32 || domain.Address(raw) != caller {
		return fmt.Errorf("%w: %s", ErrNotPendingController, caller)
	}
	if err := txn.Set(ctx, controllerKey, caller[:]); err != nil {
		return err
	}
	if err := txn.Delete(ctx, pendingControllerKey); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	log.Printf("[admin] controller is now %s", caller)
	return nil
}

// AuthorizeNode grants a node the right to submit bundles.
func (a *Admin) AuthorizeNode(ctx context.Context, caller, node domain.Address) error {
	return a.setNode(ctx, caller, node, true)
}

// DeauthorizeNode revokes a node's submission right.
func (a *Admin) DeauthorizeNode(ctx context.Context, caller, node domain.Address) error {
	return a.setNode(ctx, caller, node, false)
}

func (a *Admin) setNode(ctx context.Context, caller, node domain.Address, grant bool) error {
	txn, err := a.kv.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Discard()

	if err := a.requireController(ctx, txn, caller); err != nil {
		return err
	}
	if grant {
		err = txn.Set(ctx, nodeKey(node), []byte{1})
	} else {
		err = txn.Delete(ctx, nodeKey(node))
	}
	if err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// IsAuthorizedNode reports whether a node may submit bundles.
func (a *Admin) IsAuthorizedNode(ctx context.Context, node domain.Address) (bool, error) {
	_, err := a.kv.Get(ctx, nodeKey(node))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ConfigurePair adds or updates the configuration entry of an asset
// pair and rebuilds the store. New pairs append; the store index of
// existing pairs is preserved.
func (a *Admin) ConfigurePair(ctx context.Context, caller domain.Address, assetA, assetB domain.AssetID, tickSpacing uint16, bundleFee uint32) error {
	if err := a.checkController(ctx, caller); err != nil {
		return err
	}
	key := configstore.DeriveKey(assetA, assetB)
	entries := a.config.ReadToBuffer(1)
	updated := false
	for i := range entries {
		if entries[i].Key == key {
			entries[i].TickSpacing = tickSpacing
			entries[i].BundleFee = bundleFee
			updated = true
			break
		}
	}
	if !updated {
		entries = append(entries, configstore.Entry{Key: key, TickSpacing: tickSpacing, BundleFee: bundleFee})
	}
	if _, err := a.config.StoreFromBuffer(ctx, entries); err != nil {
		return err
	}
	observability.RecordConfigRebuild(len(entries))
	return nil
}

// RemovePair deletes a pair's entry. Entries after it shift down one
// store index; bundles built against the old layout will fail pair
// resolution and must be rebuilt.
func (a *Admin) RemovePair(ctx context.Context, caller domain.Address, assetA, assetB domain.AssetID) error {
	if err := a.checkController(ctx, caller); err != nil {
		return err
	}
	key := configstore.DeriveKey(assetA, assetB)
	entries := a.config.ReadToBuffer(0)
	at := -1
	for i := range entries {
		if entries[i].Key == key {
			at = i
			break
		}
	}
	if at < 0 {
		return fmt.Errorf("%w: key %x", ErrUnknownPair, key[:8])
	}
	entries = append(entries[:at], entries[at+1:]...)
	if _, err := a.config.StoreFromBuffer(ctx, entries); err != nil {
		return err
	}
	observability.RecordConfigRebuild(len(entries))
	return nil
}

// FeeUpdate is one pair fee change in a batch.
type FeeUpdate struct {
	AssetA    domain.AssetID
	AssetB    domain.AssetID
	BundleFee uint32
}

// BatchUpdateFees applies several fee changes in one store rebuild.
// Every named pair must exist.
func (a *Admin) BatchUpdateFees(ctx context.Context, caller domain.Address, updates []FeeUpdate) error {
	if err := a.checkController(ctx, caller); err != nil {
		return err
	}
	entries := a.config.ReadToBuffer(0)
	for _, u := range updates {
		key := configstore.DeriveKey(u.AssetA, u.AssetB)
		at := -1
		for i := range entries {
			if entries[i].Key == key {
				at = i
				break
			}
		}
		if at < 0 {
			return fmt.Errorf("%w: key %x", ErrUnknownPair, key[:8])
		}
		entries[at].BundleFee = u.BundleFee
	}
	if _, err := a.config.StoreFromBuffer(ctx, entries); err != nil {
		return err
	}
	observability.RecordConfigRebuild(len(entries))
	return nil
}

// PullFees drains the protocol fee accumulator of an asset and returns
// the amount owed to the controller. The caller is responsible for the
// actual token movement.
func (a *Admin) PullFees(ctx context.Context, caller domain.Address, asset domain.AssetID) (*uint256.Int, error) {
	txn, err := a.kv.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	if err := a.requireController(ctx, txn, caller); err != nil {
		return nil, err
	}
	owed, err := ledger.AccruedFees(ctx, txn, asset)
	if err != nil {
		return nil, err
	}
	if owed.IsZero() {
		return owed, nil
	}
	if err := ledger.ResetFees(ctx, txn, asset); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, err
	}
	log.Printf("[admin] pulled %s fees of asset %x", owed, asset[:8])
	return owed, nil
}

func (a *Admin) checkController(ctx context.Context, caller domain.Address) error {
	txn, err := a.kv.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Discard()
	return a.requireController(ctx, txn, caller)
}
