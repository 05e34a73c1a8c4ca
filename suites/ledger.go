package suites

import (
	"errors"
	"fmt"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
	m "github.com/launchdarkly/spec-harness/framework/matchers"
)

var errInsufficientFunds = errors.New("insufficient funds")

// ledger is a minimal in-memory bank used by the ledger specs. It tracks the total deposited so
// that the teardown can check that transfers never create or destroy money.
type ledger struct {
	lock      sync.Mutex
	balances  map[string]int
	deposited int
}

func newLedger() *ledger { return &ledger{balances: make(map[string]int)} }

func (l *ledger) deposit(account string, amount int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.balances[account] += amount
	l.deposited += amount
}

func (l *ledger) transfer(from, to string, amount int) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("transfer of %d from %s: %w", amount, from, errInsufficientFunds)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *ledger) balance(account string) int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.balances[account]
}

func (l *ledger) checkConserved() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	sum := 0
	for _, b := range l.balances {
		sum += b
	}
	if sum != l.deposited {
		return fmt.Errorf("ledger holds %d but %d was deposited", sum, l.deposited)
	}
	return nil
}

func ledgerFrom(s *ldspec.Scope) *ledger {
	v, ok := s.Get("ledger")
	if !ok {
		panic("no ledger in scope")
	}
	return v.(*ledger)
}

// account names are derived from the case ID so that cases never share accounts, whatever order
// they run in.
func account(t *ldspec.T, name string) string { return string(t.ID()) + ":" + name }

var ledgerSpec = &ldspec.Def{
	Name:     "Ledger",
	Package:  "suites",
	Doc:      "deposits and transfers against a shared in-memory ledger",
	Metadata: ldspec.Metadata{"area": ldvalue.String("bank")},
	BeforeAll: func(s *ldspec.Scope) error {
		s.Set("ledger", newLedger())
		s.DebugLogger().Printf("created ledger")
		return nil
	},
	AfterAll: func(s *ldspec.Scope) error {
		return ledgerFrom(s).checkConserved()
	},
	Cases: []ldspec.CaseTemplate{
		{
			Name: "starts_empty",
			Body: func(t *ldspec.T) {
				t.Expect(ledgerFrom(t.Scope()).balance(account(t, "nobody"))).To(m.Equal(0))
			},
		},
	},
	Children: []*ldspec.Def{depositsSpec, transfersSpec},
}

var depositsSpec = &ldspec.Def{
	Name:     "Deposits",
	Metadata: ldspec.Metadata{"speed": ldvalue.String("fast")},
	Cases: []ldspec.CaseTemplate{
		{
			Name: "credits_account",
			Body: func(t *ldspec.T) {
				l := ledgerFrom(t.Scope())
				l.deposit(account(t, "alice"), 50)
				t.Expect(l.balance(account(t, "alice"))).To(m.Equal(50))
			},
		},
		{
			Name: "accumulates",
			Body: func(t *ldspec.T) {
				l := ledgerFrom(t.Scope())
				for i := 1; i <= 4; i++ {
					l.deposit(account(t, "bob"), i)
				}
				require.Equal(t, 10, l.balance(account(t, "bob")))
			},
		},
	},
}

var transfersSpec = &ldspec.Def{
	Name:     "Transfers",
	Metadata: ldspec.Metadata{"speed": ldvalue.String("slow")},
	BeforeEach: func(s *ldspec.Scope) error {
		s.DebugLogger().Printf("balances checked before transfer")
		return ledgerFrom(s).checkConserved()
	},
	Cases: []ldspec.CaseTemplate{
		{
			Name: "moves_funds",
			Body: func(t *ldspec.T) {
				l := ledgerFrom(t.Scope())
				from, to := account(t, "carol"), account(t, "dave")
				l.deposit(from, 30)
				t.Require(l.transfer(from, to, 20)).To(m.BeNil())
				t.Expect(l.balance(from)).To(m.Equal(10))
				t.Expect(l.balance(to)).To(m.Equal(20))
			},
		},
		{
			Name: "rejects_overdraft",
			Body: func(t *ldspec.T) {
				l := ledgerFrom(t.Scope())
				from := account(t, "erin")
				l.deposit(from, 5)
				err := l.transfer(from, account(t, "frank"), 6)
				t.Require(err).To(m.Not(m.BeNil()))
				t.Expect(errors.Is(err, errInsufficientFunds)).To(m.BeTrue())
				t.Expect(l.balance(from)).To(m.Equal(5))
			},
		},
		{
			Name:       "reverses_transfer",
			Body:       func(*ldspec.T) {},
			Incomplete: true,
		},
	},
}
