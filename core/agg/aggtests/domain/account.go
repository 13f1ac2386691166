package domain

import (
	"github.com/codewandler/aggr-go/core/agg"
	"github.com/codewandler/aggr-go/core/agg/assert"
)

const AccountType = "account"

type (
	Account struct {
		Number  string `json:"number"`
		Owner   string `json:"owner"`
		Balance int64  `json:"balance"`
		Open    bool   `json:"open"`
	}

	AccountOpened struct {
		Number string `json:"number"`
		Owner  string `json:"owner"`
	}

	MoneyMoved struct {
		Amount int64 `json:"amount"`
	}

	AccountClosed struct{}
)

var (
	Opened = agg.NewDef("account_opened", agg.WithPrimaryKey(func(p AccountOpened) string {
		return p.Number
	}))
	Deposited = agg.NewDef[MoneyMoved]("account_deposited")
	Withdrawn = agg.NewDef[MoneyMoved]("account_withdrawn")
	Closed    = agg.NewDef[AccountClosed]("account_closed")
)

// movementBuilder is the shared deposit/withdraw sub-registry; the full
// account builder merges it in.
func movementBuilder() agg.Builder[Account] {
	b := agg.NewBuilder[Account]()
	b = agg.On(b, Deposited, func(s Account, p MoneyMoved) Account {
		s.Balance += p.Amount
		return s
	})
	b = agg.On(b, Withdrawn, func(s Account, p MoneyMoved) Account {
		s.Balance -= p.Amount
		return s
	})
	return b
}

func AccountBuilder() agg.Builder[Account] {
	b := agg.NewBuilder[Account]().WithInitialState(func() Account { return Account{} })
	b = agg.On(b, Opened, func(s Account, p AccountOpened) Account {
		s.Number = p.Number
		s.Owner = p.Owner
		s.Open = true
		return s
	})
	b = agg.On(b, Closed, func(s Account, _ AccountClosed) Account {
		s.Open = false
		return s
	})
	return b.Merge(movementBuilder())
}

func AccountReducer() *agg.Reducer[Account] {
	r, err := AccountBuilder().Reducer()
	if err != nil {
		panic(err)
	}
	return r
}

func AccountDefs() []agg.EnvOption {
	return []agg.EnvOption{
		agg.WithDef(Opened),
		agg.WithDef(Deposited),
		agg.WithDef(Withdrawn),
		agg.WithDef(Closed),
	}
}

// === Commands ===

func OpenAccount(r *agg.Reducer[Account], a agg.Aggregate[Account], number, owner string) (agg.Aggregate[Account], error) {
	out := a
	err := assert.Guard(
		func() (err error) {
			out, err = r.Apply(a, Opened.New(AccountOpened{Number: number, Owner: owner}))
			return err
		},
		assert.NonEmpty(number, "account number"),
		assert.NonEmpty(owner, "account owner"),
		assert.False(a.StateOr(Account{}).Open, "account is already open"),
	)
	return out, err
}

func Deposit(r *agg.Reducer[Account], a agg.Aggregate[Account], amount int64) (agg.Aggregate[Account], error) {
	out := a
	err := assert.Guard(
		func() (err error) {
			out, err = r.Apply(a, Deposited.New(MoneyMoved{Amount: amount}))
			return err
		},
		assert.True(a.StateOr(Account{}).Open, "account is open"),
		assert.True(amount > 0, "deposit amount is positive"),
	)
	return out, err
}

func Withdraw(r *agg.Reducer[Account], a agg.Aggregate[Account], amount int64) (agg.Aggregate[Account], error) {
	out := a
	err := assert.Guard(
		func() (err error) {
			out, err = r.Apply(a, Withdrawn.New(MoneyMoved{Amount: amount}))
			return err
		},
		assert.True(a.StateOr(Account{}).Open, "account is open"),
		assert.True(amount > 0, "withdraw amount is positive"),
		assert.True(a.StateOr(Account{}).Balance >= amount, "sufficient balance"),
	)
	return out, err
}

func CloseAccount(r *agg.Reducer[Account], a agg.Aggregate[Account]) (agg.Aggregate[Account], error) {
	out := a
	err := assert.Guard(
		func() (err error) {
			out, err = r.Apply(a, Closed.New(AccountClosed{}))
			return err
		},
		assert.True(a.StateOr(Account{}).Open, "account is open"),
		assert.True(a.StateOr(Account{}).Balance == 0, "balance is settled"),
	)
	return out, err
}
