package engine

import (
	"errors"
	"math/bits"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

func requireOwner(caller domain.Identity, acct domain.PlayerAccount) error {
	if caller != acct.Owner {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireAdmin(caller domain.Identity, cfg domain.GlobalConfig) error {
	if caller != cfg.Admin {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireAdminOrFeeRecipient(caller domain.Identity, cfg domain.GlobalConfig) error {
	if caller != cfg.Admin && caller != cfg.FeeRecipient {
		return domain.ErrUnauthorized
	}
	return nil
}

// exceeds reports balance > threshold, where threshold is factor*amount.
// An overflowing threshold can never be exceeded.
func exceeds(balance, amount, factor uint64) bool {
	hi, threshold := bits.Mul64(amount, factor)
	if hi != 0 {
		return false
	}
	return balance > threshold
}

// computeFee returns stake*rate/1000, truncated.
func computeFee(stake, rateMilli uint64) (uint64, error) {
	hi, lo := bits.Mul64(stake, rateMilli)
	if hi >= domain.PermilleDenominator {
		return 0, domain.ErrFeeOverflow
	}
	fee, _ := bits.Div64(hi, lo, domain.PermilleDenominator)
	return fee, nil
}

func isNotInitialized(err error) bool {
	return errors.Is(err, domain.ErrNotInitialized)
}
