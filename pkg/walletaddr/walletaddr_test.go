package walletaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

func TestValidateEthereum(t *testing.T) {
	for _, currency := range []model.Currency{model.CurrencyETH, model.CurrencySTQ} {
		assert.NoError(t, Validate(currency, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
		assert.NoError(t, Validate(currency, "0x0000000000000000000000000000000000000000"))
		assert.Error(t, Validate(currency, "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe"))
		assert.Error(t, Validate(currency, "0xZZZeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
		assert.Error(t, Validate(currency, ""))
	}
}

func TestValidateBitcoin(t *testing.T) {
	assert.NoError(t, Validate(model.CurrencyBTC, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"))
	assert.NoError(t, Validate(model.CurrencyBTC, "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"))

	// wrong prefix, bech32 not accepted
	assert.Error(t, Validate(model.CurrencyBTC, "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"))
	// non-base58 characters
	assert.Error(t, Validate(model.CurrencyBTC, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN0"))
	assert.Error(t, Validate(model.CurrencyBTC, "1short"))
	assert.Error(t, Validate(model.CurrencyBTC, ""))
}

func TestValidateFiatHasNoAddresses(t *testing.T) {
	assert.Error(t, Validate(model.CurrencyEUR, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
}
