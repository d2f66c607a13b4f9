package payments

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// Mock is an in-memory gateway for local development and tests. It keeps
// real balances: a transfer debits the source account and credits the
// destination, and repeating a transfer id is a no-op.
type Mock struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]*Account
	transfers map[uuid.UUID]struct{}
	rates     map[[2]model.Currency]decimal.Decimal
	rateTTL   time.Duration
}

// NewMock builds an empty mock gateway with fixed demo rates.
func NewMock() *Mock {
	return &Mock{
		accounts:  map[uuid.UUID]*Account{},
		transfers: map[uuid.UUID]struct{}{},
		rates: map[[2]model.Currency]decimal.Decimal{
			{model.CurrencyEUR, model.CurrencySTQ}: decimal.RequireFromString("1000"),
			{model.CurrencyEUR, model.CurrencyETH}: decimal.RequireFromString("0.004"),
			{model.CurrencyEUR, model.CurrencyBTC}: decimal.RequireFromString("0.0001"),
			{model.CurrencySTQ, model.CurrencyEUR}: decimal.RequireFromString("0.001"),
			{model.CurrencyETH, model.CurrencyEUR}: decimal.RequireFromString("250"),
			{model.CurrencyBTC, model.CurrencyEUR}: decimal.RequireFromString("10000"),
		},
		rateTTL: 15 * time.Minute,
	}
}

// SetRate overrides a quoted rate pair, for tests.
func (m *Mock) SetRate(from, to model.Currency, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[[2]model.Currency{from, to}] = rate
}

func mockWalletAddress(id uuid.UUID, currency model.Currency) string {
	raw := id[:]
	switch currency {
	case model.CurrencyBTC:
		return "1" + hex.EncodeToString(raw)[:26]
	default:
		return "0x" + hex.EncodeToString(raw) + hex.EncodeToString(raw[:4])
	}
}

func (m *Mock) CreateAccount(_ context.Context, input CreateAccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accounts[input.ID]; ok {
		return *existing, nil
	}
	account := &Account{
		ID:            input.ID,
		Currency:      input.Currency,
		Name:          input.Name,
		WalletAddress: mockWalletAddress(input.ID, input.Currency),
		Balance:       model.NewAmount(0),
	}
	m.accounts[input.ID] = account
	return *account, nil
}

func (m *Mock) DeleteAccount(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	return nil
}

func (m *Mock) GetAccount(_ context.Context, id uuid.UUID) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[id]; ok {
		return *account, nil
	}
	return Account{}, errs.NotFound("gateway account")
}

func (m *Mock) AccountByAddress(_ context.Context, currency model.Currency, address string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Currency == currency && account.WalletAddress == address {
			return *account, nil
		}
	}
	return Account{}, errs.NotFound("gateway account")
}

func (m *Mock) GetFees(_ context.Context, currency model.Currency) ([]Fee, error) {
	base := model.NewAmount(1000)
	fees := make([]Fee, 0, 3)
	for i := uint64(1); i <= 3; i++ {
		value, _ := base.CheckedMul(i)
		fees = append(fees, Fee{Currency: currency, Value: value, EstimatedTime: int64(60 / i)})
	}
	return fees, nil
}

func (m *Mock) Withdraw(_ context.Context, input WithdrawInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.transfers[input.ID]; done {
		return nil
	}
	from, ok := m.accounts[input.AccountID]
	if !ok {
		return errs.NotFound("gateway account")
	}
	remaining, ok := from.Balance.CheckedSub(input.Amount)
	if !ok {
		return errs.Newf(errs.KindInternal, "insufficient funds on account %s", input.AccountID)
	}
	from.Balance = remaining
	m.transfers[input.ID] = struct{}{}
	return nil
}

func (m *Mock) GetRate(_ context.Context, input GetRateInput) (Rate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[[2]model.Currency{input.From, input.To}]
	if !ok {
		if input.From == input.To {
			rate = decimal.NewFromInt(1)
		} else {
			return Rate{}, errs.Newf(errs.KindInternal, "no rate for %s -> %s", input.From, input.To)
		}
	}
	return Rate{
		ID:        input.ID,
		From:      input.From,
		To:        input.To,
		Amount:    input.Amount,
		Rate:      rate,
		ExpiresAt: time.Now().Add(m.rateTTL),
	}, nil
}

func (m *Mock) RefreshRate(ctx context.Context, rateID uuid.UUID) (Rate, error) {
	return Rate{}, errs.NotFound("rate quote")
}

func (m *Mock) CreateInternalTransfer(_ context.Context, input TransferInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.transfers[input.ID]; done {
		return nil
	}
	from, ok := m.accounts[input.FromAccountID]
	if !ok {
		return errs.NotFound("gateway account")
	}
	to, ok := m.accounts[input.ToAccountID]
	if !ok {
		return errs.NotFound("gateway account")
	}
	remaining, ok := from.Balance.CheckedSub(input.Amount)
	if !ok {
		return errs.Newf(errs.KindInternal, "insufficient funds on account %s", input.FromAccountID)
	}
	credited, ok := to.Balance.CheckedAdd(input.Amount)
	if !ok {
		return errs.Newf(errs.KindInternal, "balance overflow on account %s", input.ToAccountID)
	}
	from.Balance = remaining
	to.Balance = credited
	m.transfers[input.ID] = struct{}{}
	return nil
}

// Deposit credits an account out of thin air, simulating an on-chain
// payment arriving at its wallet.
func (m *Mock) Deposit(id uuid.UUID, amount model.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return errs.NotFound("gateway account")
	}
	credited, okAdd := account.Balance.CheckedAdd(amount)
	if !okAdd {
		return errs.Newf(errs.KindInternal, "balance overflow on account %s", id)
	}
	account.Balance = credited
	return nil
}
