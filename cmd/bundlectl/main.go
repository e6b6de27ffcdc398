// Package main provides a small operator tool for working with raw
// bundle files: decode and print their contents, compute submission
// hashes, build skeleton bundles for smoke testing, and derive config
// store keys for asset pairs.
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/holiman/uint256"

	"clearline/internal/configstore"
	"clearline/internal/domain"
)

func main() {
	bundleFile := flag.String("bundle", "", "Path to a raw bundle file")
	asJSON := flag.Bool("json", false, "Output as JSON")
	buildFile := flag.String("build", "", "Write a skeleton bundle to this path")
	pairA := flag.String("pair-a", "", "First asset of a pair (hex)")
	pairB := flag.String("pair-b", "", "Second asset of a pair (hex)")

	flag.Parse()

	logger := log.New(os.Stderr, "[bundlectl] ", log.LstdFlags)

	switch {
	case *buildFile != "":
		if err := build(*buildFile, *pairA, *pairB); err != nil {
			logger.Fatalf("build bundle: %v", err)
		}
	case *pairA != "" && *pairB != "":
		if err := derivePairKey(*pairA, *pairB); err != nil {
			logger.Fatalf("derive pair key: %v", err)
		}
	case *bundleFile != "":
		if err := inspect(*bundleFile, *asJSON); err != nil {
			logger.Fatalf("inspect bundle: %v", err)
		}
	default:
		logger.Fatal("one of --build, --bundle, or --pair-a/--pair-b is required")
	}
}

// build writes an empty, well-formed bundle. When a pair is given it
// also carries the two assets with zero settlement legs and one pair
// priced at 1.0, which exercises the full decode path end to end.
func build(path, pairA, pairB string) error {
	bundle := &domain.Bundle{}
	if pairA != "" || pairB != "" {
		assetA, err := parseAssetID(pairA)
		if err != nil {
			return err
		}
		assetB, err := parseAssetID(pairB)
		if err != nil {
			return err
		}
		// The asset list is strictly ascending by id.
		if bytes.Compare(assetB[:], assetA[:]) < 0 {
			assetA, assetB = assetB, assetA
		}
		if assetA == assetB {
			return fmt.Errorf("assets must differ")
		}
		zero := func() *uint256.Int { return uint256.NewInt(0) }
		bundle.Assets = []domain.Asset{
			{ID: assetA, Save: zero(), Take: zero(), Settle: zero()},
			{ID: assetB, Save: zero(), Take: zero(), Settle: zero()},
		}
		bundle.Pairs = []domain.Pair{{
			Index0:      0,
			Index1:      1,
			StoreIndex:  0,
			Price1Over0: new(uint256.Int).Lsh(uint256.NewInt(1), 128),
		}}
	}
	raw, err := bundle.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	hash := sha256.Sum256(raw)
	fmt.Printf("wrote %s (%d bytes, hash %x)\n", path, len(raw), hash[:])
	return nil
}

func derivePairKey(a, b string) error {
	assetA, err := parseAssetID(a)
	if err != nil {
		return err
	}
	assetB, err := parseAssetID(b)
	if err != nil {
		return err
	}
	key := configstore.DeriveKey(assetA, assetB)
	fmt.Printf("%x\n", key[:])
	return nil
}

func parseAssetID(s string) (domain.AssetID, error) {
	var id domain.AssetID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("asset id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("asset id %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// bundleSummary is the JSON shape of an inspected bundle.
type bundleSummary struct {
	Hash        string         `json:"hash"`
	Size        int            `json:"size"`
	Assets      []assetSummary `json:"assets"`
	Pairs       []pairSummary  `json:"pairs"`
	PoolUpdates int            `json:"pool_updates"`
	Priority    []orderSummary `json:"priority_orders"`
	User        []orderSummary `json:"user_orders"`
}

type assetSummary struct {
	ID     string `json:"id"`
	Save   string `json:"save"`
	Take   string `json:"take"`
	Settle string `json:"settle"`
}

type pairSummary struct {
	Index0      uint16 `json:"index0"`
	Index1      uint16 `json:"index1"`
	StoreIndex  uint16 `json:"store_index"`
	Price1Over0 string `json:"price_1over0"`
}

type orderSummary struct {
	Signer     string `json:"signer"`
	Pair       uint16 `json:"pair"`
	ZeroForOne bool   `json:"zero_for_one"`
	Internal   bool   `json:"internal"`
	Standing   bool   `json:"standing,omitempty"`
	Partial    bool   `json:"partial,omitempty"`
	Amount     string `json:"amount"`
}

func inspect(path string, asJSON bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	bundle, err := domain.DecodeBundle(raw)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(raw)

	sum := bundleSummary{
		Hash:        hex.EncodeToString(hash[:]),
		Size:        len(raw),
		PoolUpdates: len(bundle.PoolUpdates),
	}
	for _, a := range bundle.Assets {
		sum.Assets = append(sum.Assets, assetSummary{
			ID:     hex.EncodeToString(a.ID[:]),
			Save:   a.Save.Dec(),
			Take:   a.Take.Dec(),
			Settle: a.Settle.Dec(),
		})
	}
	for _, p := range bundle.Pairs {
		sum.Pairs = append(sum.Pairs, pairSummary{
			Index0:      p.Index0,
			Index1:      p.Index1,
			StoreIndex:  p.StoreIndex,
			Price1Over0: p.Price1Over0.Hex(),
		})
	}
	for i := range bundle.TopOfBlock {
		o := &bundle.TopOfBlock[i]
		sum.Priority = append(sum.Priority, orderSummary{
			Signer:     o.Signature.Signer.String(),
			Pair:       o.PairIndex,
			ZeroForOne: o.ZeroForOne,
			Internal:   o.UseInternal,
			Amount:     o.QuantityIn.Dec(),
		})
	}
	for i := range bundle.UserOrders {
		o := &bundle.UserOrders[i]
		sum.User = append(sum.User, orderSummary{
			Signer:     o.Signature.Signer.String(),
			Pair:       o.PairIndex,
			ZeroForOne: o.ZeroForOne,
			Internal:   o.UseInternal,
			Standing:   o.IsStanding(),
			Partial:    o.Quantities.Partial,
			Amount:     o.Quantities.Amount().Dec(),
		})
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Printf("bundle %s (%d bytes)\n", sum.Hash, sum.Size)
	fmt.Printf("  assets: %d, pairs: %d, pool updates: %d\n", len(sum.Assets), len(sum.Pairs), sum.PoolUpdates)
	for _, a := range sum.Assets {
		fmt.Printf("  asset %s save=%s take=%s settle=%s\n", a.ID[:16], a.Save, a.Take, a.Settle)
	}
	for i, p := range sum.Pairs {
		fmt.Printf("  pair %d: assets (%d, %d) store index %d price %s\n", i, p.Index0, p.Index1, p.StoreIndex, p.Price1Over0)
	}
	fmt.Printf("  priority orders: %d\n", len(sum.Priority))
	for i, o := range sum.Priority {
		fmt.Printf("    %d: signer=%s pair=%d zeroForOne=%t amountIn=%s\n", i, o.Signer, o.Pair, o.ZeroForOne, o.Amount)
	}
	fmt.Printf("  user orders: %d\n", len(sum.User))
	for i, o := range sum.User {
		kind := "flash"
		if o.Standing {
			kind = "standing"
		}
		fmt.Printf("    %d: %s signer=%s pair=%d zeroForOne=%t partial=%t amount=%s\n",
			i, kind, o.Signer, o.Pair, o.ZeroForOne, o.Partial, o.Amount)
	}
	return nil
}
