package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	admin Identity = "0xadmin"
	addrA Identity = "0xaaaa"
	addrB Identity = "0xbbbb"
	domain         = "certdao.org"
)

var yearAndHalf = 548 * 24 * time.Hour

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) Get(context.Context, Identity) (*Registration, error) { return nil, s.err }

func (s *failingStore) Save(context.Context, *Registration, Amount) error { return s.err }

type RegistrySuite struct {
	suite.Suite
	ctx   context.Context
	clock *fakeClock
	store *MemoryStore
	sink  *MemorySink
	reg   *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = newFakeClock()
	s.store = NewMemoryStore()
	s.sink = NewMemorySink()
	logger, _ := test.NewNullLogger()
	reg, err := New(s.ctx, admin, s.store, WithClock(s.clock), WithSink(s.sink), WithLogger(logger))
	s.Require().NoError(err)
	s.reg = reg
}

func (s *RegistrySuite) pay(who Identity, value string) Caller {
	return Caller{Identity: who, Value: MustParseAmount(value)}
}

func (s *RegistrySuite) submitA() {
	s.Require().NoError(s.reg.Submit(s.ctx, s.pay(addrA, "0.05"), domain, addrA, ""))
}

func (s *RegistrySuite) approveA() {
	s.Require().NoError(s.reg.Approve(s.ctx, Caller{Identity: admin}, addrA))
}

func (s *RegistrySuite) TestUnknownSubject() {
	_, err := s.reg.Status(s.ctx, addrA)
	s.ErrorIs(err, ErrNotFound)

	_, err = s.reg.Owner(s.ctx, addrA)
	s.ErrorIs(err, ErrNotFound)

	s.False(s.reg.Verify(s.ctx, addrA, domain))
	s.False(s.reg.Verify(s.ctx, addrA, ""))
}

func (s *RegistrySuite) TestAdministrator() {
	s.Equal(admin, s.reg.Administrator())
	s.Equal(MinFee, s.reg.MinFee())
	s.Equal(ValidityPeriod, s.reg.ValidityPeriod())
}

func (s *RegistrySuite) TestSubmit() {
	s.Run("insufficient fee creates nothing", func() {
		err := s.reg.Submit(s.ctx, s.pay(addrA, "0.049999"), domain, addrA, "")
		s.Require().ErrorIs(err, ErrInsufficientFee)

		_, err = s.reg.Status(s.ctx, addrA)
		s.ErrorIs(err, ErrNotFound)
		bal, err := s.reg.Balance(s.ctx, Caller{Identity: admin})
		s.Require().NoError(err)
		s.Zero(bal)
		s.Empty(s.sink.Events())
	})

	s.Run("empty domain is rejected", func() {
		err := s.reg.Submit(s.ctx, s.pay(addrA, "0.05"), "  ", addrA, "")
		s.ErrorIs(err, ErrInvalidDomain)
	})

	s.Run("empty subject is rejected", func() {
		err := s.reg.Submit(s.ctx, s.pay(addrA, "0.05"), domain, "", "")
		s.ErrorIs(err, ErrInvalidSubject)
	})

	s.Run("anonymous caller is rejected", func() {
		err := s.reg.Submit(s.ctx, Caller{Value: MinFee}, domain, addrA, "")
		s.ErrorIs(err, ErrUnauthorized)
	})

	s.Run("pending after submission", func() {
		s.Require().NoError(s.reg.Submit(s.ctx, s.pay(addrB, "0.05"), domain, addrA, "meta"))

		status, err := s.reg.Status(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(StatusPending, status)
		s.False(s.reg.Verify(s.ctx, addrA, domain))

		owner, err := s.reg.Owner(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(addrB, owner)

		reg, _, err := s.reg.Lookup(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal("meta", reg.Metadata)
		s.Equal(MinFee, reg.FeePaid)
		s.True(reg.ApprovedAt.IsZero())
		s.True(reg.ExpiresAt.IsZero())

		s.Equal([]EventKind{EventSubmitted}, s.sink.Kinds())
		ev := s.sink.Events()[0]
		s.Equal(addrA, ev.Subject)
		s.Equal(domain, ev.Domain)
		s.NotEmpty(ev.ID)
	})
}

func (s *RegistrySuite) TestSubmitTwice() {
	s.submitA()

	err := s.reg.Submit(s.ctx, s.pay(addrA, "0.05"), "other.org", addrA, "")
	s.ErrorIs(err, ErrAlreadyRegistered)

	s.approveA()
	err = s.reg.Submit(s.ctx, s.pay(addrA, "1"), domain, addrA, "")
	s.ErrorIs(err, ErrAlreadyRegistered)

	bal, err := s.reg.Balance(s.ctx, Caller{Identity: admin})
	s.Require().NoError(err)
	s.Equal(MinFee, bal)
}

func (s *RegistrySuite) TestDomainHeldBySomeoneElse() {
	s.submitA()

	err := s.reg.Submit(s.ctx, s.pay(addrB, "0.05"), domain, addrB, "")
	s.ErrorIs(err, ErrAlreadyRegistered)

	s.Require().NoError(s.reg.Revoke(s.ctx, Caller{Identity: admin}, addrA))
	s.NoError(s.reg.Submit(s.ctx, s.pay(addrB, "0.05"), domain, addrB, ""))
}

func (s *RegistrySuite) TestDomainIsCaseSensitive() {
	s.submitA()
	s.approveA()

	s.True(s.reg.Verify(s.ctx, addrA, domain))
	s.False(s.reg.Verify(s.ctx, addrA, "CertDAO.org"))
	s.False(s.reg.Verify(s.ctx, addrA, "www.certdao.org"))
}

func (s *RegistrySuite) TestApprove() {
	s.Run("unknown subject", func() {
		err := s.reg.Approve(s.ctx, Caller{Identity: admin}, addrA)
		s.ErrorIs(err, ErrNotFound)
	})

	s.submitA()

	s.Run("non administrator", func() {
		for _, who := range []Identity{addrA, addrB, ""} {
			err := s.reg.Approve(s.ctx, Caller{Identity: who}, addrA)
			s.ErrorIs(err, ErrUnauthorized)
		}
		status, err := s.reg.Status(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(StatusPending, status)
	})

	s.Run("administrator", func() {
		s.approveA()
		status, err := s.reg.Status(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(StatusApproved, status)
		s.True(s.reg.Verify(s.ctx, addrA, domain))

		reg, _, err := s.reg.Lookup(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(s.clock.Now(), reg.ApprovedAt)
		s.Equal(s.clock.Now().Add(ValidityPeriod), reg.ExpiresAt)
	})

	s.Run("re-approval restarts the window", func() {
		s.clock.Advance(30 * 24 * time.Hour)
		s.approveA()
		reg, _, err := s.reg.Lookup(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(s.clock.Now().Add(ValidityPeriod), reg.ExpiresAt)
	})

	s.Equal([]EventKind{EventSubmitted, EventApproved, EventApproved}, s.sink.Kinds())
}

func (s *RegistrySuite) TestExpiry() {
	s.submitA()
	s.approveA()

	s.clock.Advance(ValidityPeriod - time.Second)
	s.True(s.reg.Verify(s.ctx, addrA, domain))

	s.clock.Advance(time.Second)
	s.False(s.reg.Verify(s.ctx, addrA, domain))
	status, err := s.reg.Status(s.ctx, addrA)
	s.Require().NoError(err)
	s.Equal(StatusExpired, status)

	reg, err := s.store.Get(s.ctx, addrA)
	s.Require().NoError(err)
	s.Equal(StatusApproved, reg.Status, "expiry is never stored")
}

func (s *RegistrySuite) TestRenew() {
	s.submitA()

	s.Run("pending cannot be renewed", func() {
		err := s.reg.Renew(s.ctx, s.pay(addrA, "0.05"), addrA, domain)
		s.ErrorIs(err, ErrNotApproved)
	})

	s.approveA()
	s.clock.Advance(yearAndHalf)

	s.Run("unknown subject", func() {
		err := s.reg.Renew(s.ctx, s.pay(addrA, "0.05"), addrB, domain)
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("not the owner", func() {
		err := s.reg.Renew(s.ctx, s.pay(admin, "0.05"), addrA, domain)
		s.ErrorIs(err, ErrUnauthorized)
	})

	s.Run("insufficient fee", func() {
		err := s.reg.Renew(s.ctx, s.pay(addrA, "0.01"), addrA, domain)
		s.ErrorIs(err, ErrInsufficientFee)
	})

	s.Run("domain mismatch", func() {
		err := s.reg.Renew(s.ctx, s.pay(addrA, "0.05"), addrA, "other.org")
		s.ErrorIs(err, ErrDomainMismatch)
	})

	status, err := s.reg.Status(s.ctx, addrA)
	s.Require().NoError(err)
	s.Equal(StatusExpired, status)

	s.Run("owner renews after expiry", func() {
		s.Require().NoError(s.reg.Renew(s.ctx, s.pay(addrA, "0.05"), addrA, domain))

		status, err := s.reg.Status(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(StatusApproved, status)
		s.True(s.reg.Verify(s.ctx, addrA, domain))

		reg, _, err := s.reg.Lookup(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(s.clock.Now().Add(ValidityPeriod), reg.ExpiresAt)
		s.Equal(2*MinFee, reg.FeePaid)
	})

	s.Run("renewal does not compound", func() {
		s.clock.Advance(24 * time.Hour)
		s.Require().NoError(s.reg.Renew(s.ctx, s.pay(addrA, "0.05"), addrA, domain))
		reg, _, err := s.reg.Lookup(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(s.clock.Now().Add(ValidityPeriod), reg.ExpiresAt)
	})

	bal, err := s.reg.Balance(s.ctx, Caller{Identity: admin})
	s.Require().NoError(err)
	s.Equal(3*MinFee, bal)
}

func (s *RegistrySuite) TestRevoke() {
	s.Run("unknown subject", func() {
		err := s.reg.Revoke(s.ctx, Caller{Identity: admin}, addrA)
		s.ErrorIs(err, ErrNotFound)
	})

	s.submitA()
	s.approveA()

	s.Run("non administrator", func() {
		err := s.reg.Revoke(s.ctx, Caller{Identity: addrA}, addrA)
		s.ErrorIs(err, ErrUnauthorized)
		s.True(s.reg.Verify(s.ctx, addrA, domain))
	})

	s.Require().NoError(s.reg.Revoke(s.ctx, Caller{Identity: admin}, addrA))

	status, err := s.reg.Status(s.ctx, addrA)
	s.Require().NoError(err)
	s.Equal(StatusRevoked, status)
	s.False(s.reg.Verify(s.ctx, addrA, domain))

	s.Run("revocation is terminal", func() {
		s.ErrorIs(s.reg.Renew(s.ctx, s.pay(addrA, "0.05"), addrA, domain), ErrRevoked)
		s.ErrorIs(s.reg.Approve(s.ctx, Caller{Identity: admin}, addrA), ErrRevoked)

		s.clock.Advance(yearAndHalf)
		status, err := s.reg.Status(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(StatusRevoked, status)
		s.False(s.reg.Verify(s.ctx, addrA, domain))
	})

	s.Run("revoking twice is allowed", func() {
		s.NoError(s.reg.Revoke(s.ctx, Caller{Identity: admin}, addrA))
	})

	s.Run("resubmission starts over", func() {
		s.Require().NoError(s.reg.Submit(s.ctx, s.pay(addrB, "0.05"), domain, addrA, ""))
		status, err := s.reg.Status(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(StatusPending, status)
		owner, err := s.reg.Owner(s.ctx, addrA)
		s.Require().NoError(err)
		s.Equal(addrB, owner)
	})
}

// TestLifecycleScenario walks the full certification lifecycle of one domain.
func (s *RegistrySuite) TestLifecycleScenario() {
	s.Require().NoError(s.reg.Submit(s.ctx, s.pay(addrA, "0.05"), "certdao.org", addrA, ""))
	s.Require().NoError(s.reg.Approve(s.ctx, Caller{Identity: admin}, addrA))
	s.True(s.reg.Verify(s.ctx, addrA, "certdao.org"))

	s.clock.Advance(yearAndHalf)
	s.False(s.reg.Verify(s.ctx, addrA, "certdao.org"))
	status, _ := s.reg.Status(s.ctx, addrA)
	s.Equal(StatusExpired, status)

	s.Require().NoError(s.reg.Renew(s.ctx, s.pay(addrA, "0.05"), addrA, "certdao.org"))
	status, _ = s.reg.Status(s.ctx, addrA)
	s.Equal(StatusApproved, status)
	s.True(s.reg.Verify(s.ctx, addrA, "certdao.org"))

	s.Require().NoError(s.reg.Revoke(s.ctx, Caller{Identity: admin}, addrA))
	status, _ = s.reg.Status(s.ctx, addrA)
	s.Equal(StatusRevoked, status)
	s.False(s.reg.Verify(s.ctx, addrA, "certdao.org"))

	s.Equal([]EventKind{EventSubmitted, EventApproved, EventRenewed, EventRevoked}, s.sink.Kinds())
}

func (s *RegistrySuite) TestBalance() {
	_, err := s.reg.Balance(s.ctx, Caller{Identity: addrA})
	s.ErrorIs(err, ErrUnauthorized)

	s.Require().NoError(s.reg.Submit(s.ctx, s.pay(addrA, "0.25"), domain, addrA, ""))
	bal, err := s.reg.Balance(s.ctx, Caller{Identity: admin})
	s.Require().NoError(err)
	s.Equal("0.25", bal.String())
}

func (s *RegistrySuite) TestFeeOverflowRejected() {
	const large = "5000000000000"
	s.Require().NoError(s.reg.Submit(s.ctx, s.pay(addrA, large), domain, addrA, ""))
	before, err := s.reg.Balance(s.ctx, Caller{Identity: admin})
	s.Require().NoError(err)

	err = s.reg.Submit(s.ctx, s.pay(addrB, large), "b.org", addrB, "")
	s.ErrorIs(err, ErrFeeOverflow)
	s.Equal("FeeOverflow", Code(err))
	_, err = s.reg.Status(s.ctx, addrB)
	s.ErrorIs(err, ErrNotFound)

	s.approveA()
	err = s.reg.Renew(s.ctx, s.pay(addrA, large), addrA, domain)
	s.ErrorIs(err, ErrFeeOverflow)

	after, err := s.reg.Balance(s.ctx, Caller{Identity: admin})
	s.Require().NoError(err)
	s.Equal(before, after)
	reg, _, err := s.reg.Lookup(s.ctx, addrA)
	s.Require().NoError(err)
	s.Equal(MustParseAmount(large), reg.FeePaid)
	s.Equal([]EventKind{EventSubmitted, EventApproved}, s.sink.Kinds())
}

func (s *RegistrySuite) TestList() {
	s.submitA()
	s.Require().NoError(s.reg.Submit(s.ctx, s.pay(addrB, "0.05"), "b.org", addrB, ""))
	s.Require().NoError(s.reg.Approve(s.ctx, Caller{Identity: admin}, addrB))

	entries, err := s.reg.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(addrA, entries[0].Registration.Subject)
	s.Equal(StatusPending, entries[0].Status)
	s.Equal(StatusApproved, entries[1].Status)
}

func TestSinkFailureDoesNotUndoTransition(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("sink down") })
	mem := NewMemorySink()

	r, err := New(ctx, admin, NewMemoryStore(), WithSink(MultiSink(failing, mem)), WithLogger(logger))
	require.NoError(t, err)

	require.NoError(t, r.Submit(ctx, Caller{Identity: addrA, Value: MinFee}, domain, addrA, ""))
	status, err := r.Status(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Len(t, mem.Events(), 1, "later sinks still receive the event")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	boom := errors.New("disk on fire")
	r, err := New(ctx, admin, &failingStore{MemoryStore: NewMemoryStore(), err: boom}, WithLogger(logger))
	require.NoError(t, err)

	err = r.Submit(ctx, Caller{Identity: addrA, Value: MinFee}, domain, addrA, "")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "Internal", Code(err))
	assert.False(t, r.Verify(ctx, addrA, domain))
}

func TestSelfCertification(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := NewMemoryStore()
	sink := NewMemorySink()

	r, err := New(ctx, admin, store,
		WithSelfCertification("0xcontract", "www.certdao.org"),
		WithSink(sink),
		WithLogger(logger))
	require.NoError(t, err)

	assert.True(t, r.Verify(ctx, "0xcontract", "www.certdao.org"))
	owner, err := r.Owner(ctx, "0xcontract")
	require.NoError(t, err)
	assert.Equal(t, admin, owner)
	assert.Equal(t, []EventKind{EventApproved}, sink.Kinds())

	// A second start over the same store leaves the registration alone.
	require.NoError(t, r.Revoke(ctx, Caller{Identity: admin}, "0xcontract"))
	r2, err := New(ctx, admin, store, WithSelfCertification("0xcontract", "www.certdao.org"), WithLogger(logger))
	require.NoError(t, err)
	assert.False(t, r2.Verify(ctx, "0xcontract", "www.certdao.org"))
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, "", NewMemoryStore())
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = New(ctx, admin, nil)
	assert.Error(t, err)

	_, err = New(ctx, admin, NewMemoryStore(), WithValidityPeriod(0))
	assert.Error(t, err)

	_, err = New(ctx, admin, NewMemoryStore(), WithSelfCertification("0xc", ""))
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestCustomPolicy(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r, err := New(ctx, admin, NewMemoryStore(),
		WithClock(clock),
		WithMinFee(MustParseAmount("1")),
		WithValidityPeriod(time.Hour))
	require.NoError(t, err)

	err = r.Submit(ctx, Caller{Identity: addrA, Value: MinFee}, domain, addrA, "")
	require.ErrorIs(t, err, ErrInsufficientFee)

	require.NoError(t, r.Submit(ctx, Caller{Identity: addrA, Value: Unit}, domain, addrA, ""))
	require.NoError(t, r.Approve(ctx, Caller{Identity: admin}, addrA))
	clock.Advance(time.Hour)
	assert.False(t, r.Verify(ctx, addrA, domain))
}

func TestConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	r, err := New(ctx, admin, NewMemoryStore(), WithLogger(logger))
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Submit(ctx, Caller{Identity: addrA, Value: MinFee}, domain, addrA, "")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
	}
	assert.Equal(t, 1, ok)

	bal, err := r.Balance(ctx, Caller{Identity: admin})
	require.NoError(t, err)
	assert.Equal(t, MinFee, bal)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "InsufficientFee", Code(ErrInsufficientFee))
	assert.Equal(t, "AlreadyRegistered", Code(ErrAlreadyRegistered))
	assert.Equal(t, "Unauthorized", Code(ErrUnauthorized))
	assert.Equal(t, "NotFound", Code(ErrNotFound))
	assert.Equal(t, "DomainMismatch", Code(ErrDomainMismatch))
	assert.Equal(t, "Revoked", Code(ErrRevoked))
	assert.Equal(t, "FeeOverflow", Code(ErrFeeOverflow))
	assert.Equal(t, "InsufficientFee", Code(errors.Join(errors.New("x"), ErrInsufficientFee)))
	assert.Equal(t, "Internal", Code(errors.New("x")))
}
