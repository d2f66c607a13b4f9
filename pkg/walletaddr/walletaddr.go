// Package walletaddr validates crypto wallet addresses per currency before
// they are persisted or handed to the payments gateway.
package walletaddr

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

// Validate reports whether addr is a plausible wallet address for the given
// currency. STQ is an ERC-20 token, so it shares the Ethereum format.
func Validate(currency model.Currency, addr string) error {
	switch currency {
	case model.CurrencyETH, model.CurrencySTQ:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%q is not an ethereum address", addr)
		}
	case model.CurrencyBTC:
		if err := validateBTC(addr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("currency %s has no wallet addresses", currency)
	}
	return nil
}

// validateBTC checks base58 legacy and P2SH addresses. Bech32 is not
// accepted; the payments gateway only issues legacy addresses.
func validateBTC(addr string) error {
	if len(addr) < 26 || len(addr) > 35 {
		return fmt.Errorf("%q has invalid bitcoin address length", addr)
	}
	if addr[0] != '1' && addr[0] != '3' {
		return fmt.Errorf("%q has invalid bitcoin address prefix", addr)
	}
	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%q is not base58: %v", addr, err)
	}
	// version byte + 20-byte hash + 4-byte checksum
	if len(decoded) != 25 {
		return fmt.Errorf("%q decodes to %d bytes, want 25", addr, len(decoded))
	}
	return nil
}
