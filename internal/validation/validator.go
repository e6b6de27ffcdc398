package validation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"filippo.io/edwards25519"

	"clearline/internal/domain"
)

var (
	// ErrInvalidSignature is returned when signature verification fails
	// under either scheme.
	ErrInvalidSignature = errors.New("validation: invalid signature")

	// ErrDeadlineExpired is returned when a standing order's deadline is
	// before the execution time.
	ErrDeadlineExpired = errors.New("validation: deadline expired")

	// ErrNoContractVerifier is returned when a contract-scheme order names
	// a signer with no registered verifier.
	ErrNoContractVerifier = errors.New("validation: no verifier registered for signer")
)

// ContractVerifier confirms a signature on behalf of an account that
// delegates verification, the second signature scheme of the order
// grammar. Implementations are registered out of band by the host.
type ContractVerifier interface {
	// VerifySignature reports whether sig is a valid signature by signer
	// over hash. A false return with nil error is a plain rejection.
	VerifySignature(ctx context.Context, signer domain.Address, hash [32]byte, sig []byte) (bool, error)
}

// Validator checks order authenticity for one engine domain.
type Validator struct {
	domain    Domain
	contracts ContractVerifier // nil when no contract signers exist
}

// NewValidator creates a Validator. contracts may be nil.
func NewValidator(d Domain, contracts ContractVerifier) *Validator {
	return &Validator{domain: d, contracts: contracts}
}

// Domain returns the validator's separation context.
func (v *Validator) Domain() Domain {
	return v.domain
}

// VerifySignature checks sig against hash and returns the authenticated
// signer address.
func (v *Validator) VerifySignature(ctx context.Context, hash [32]byte, sig domain.Signature) (domain.Address, error) {
	switch sig.Kind {
	case domain.SigEd25519:
		if err := checkCanonicalKey(sig.Signer); err != nil {
			return domain.ZeroAddress, err
		}
		if !ed25519.Verify(ed25519.PublicKey(sig.Signer[:]), hash[:], sig.Data) {
			return domain.ZeroAddress, fmt.Errorf("%w: ed25519 verify failed for %s",
				ErrInvalidSignature, sig.Signer)
		}
		return sig.Signer, nil

	case domain.SigContract:
		if v.contracts == nil {
			return domain.ZeroAddress, fmt.Errorf("%w: %s", ErrNoContractVerifier, sig.Signer)
		}
		ok, err := v.contracts.VerifySignature(ctx, sig.Signer, hash, sig.Data)
		if err != nil {
			return domain.ZeroAddress, fmt.Errorf("contract verify: %w", err)
		}
		if !ok {
			return domain.ZeroAddress, fmt.Errorf("%w: %s rejected the signature",
				ErrInvalidSignature, sig.Signer)
		}
		return sig.Signer, nil

	default:
		return domain.ZeroAddress, fmt.Errorf("%w: unknown scheme %d", ErrInvalidSignature, sig.Kind)
	}
}

// checkCanonicalKey rejects public keys that are not canonical encodings
// of curve points. ed25519.Verify alone accepts some non-canonical keys,
// which would give one signer two distinct replay identities.
func checkCanonicalKey(key domain.Address) error {
	p, err := new(edwards25519.Point).SetBytes(key[:])
	if err != nil {
		return fmt.Errorf("%w: public key is not a curve point: %v", ErrInvalidSignature, err)
	}
	if [32]byte(p.Bytes()) != [32]byte(key) {
		return fmt.Errorf("%w: non-canonical public key %s", ErrInvalidSignature, key)
	}
	return nil
}

// CheckDeadline verifies a standing order's wall-clock deadline
// (seconds) against the execution time.
func CheckDeadline(deadline uint64, execTime time.Time) error {
	if execTime.Unix() > int64(deadline) {
		return fmt.Errorf("%w: deadline %d, executing at %d",
			ErrDeadlineExpired, deadline, execTime.Unix())
	}
	return nil
}
