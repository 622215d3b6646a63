// Package registry certifies that a domain belongs to a subject identity and
// tracks each certification through submission, approval, renewal and
// revocation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// ValidityPeriod is how long an approval or renewal stays valid.
	ValidityPeriod = 365 * 24 * time.Hour
	// MinFee is the smallest value accepted with a submission or renewal (0.05).
	MinFee Amount = 50_000
)

// Recorder observes the outcome of every operation.
type Recorder interface {
	Observe(operation string, start time.Time, err error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithSink sets where lifecycle events are published.
func WithSink(s Sink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = l }
}

// WithRecorder sets the per-operation recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.rec = rec }
}

// WithMinFee overrides MinFee.
func WithMinFee(fee Amount) Option {
	return func(r *Registry) { r.minFee = fee }
}

// WithValidityPeriod overrides ValidityPeriod.
func WithValidityPeriod(d time.Duration) Option {
	return func(r *Registry) { r.validity = d }
}

// WithSelfCertification makes the administrator certify subject for domain
// when the registry is created, unless subject is already registered.
func WithSelfCertification(subject Identity, domain string) Option {
	return func(r *Registry) {
		r.self = &Registration{Subject: subject, Domain: domain}
	}
}

// Registry holds every registration. All operations are serialised by one
// mutex, read the clock once, and run every check before the single write.
type Registry struct {
	mu       sync.Mutex
	admin    Identity
	store    Store
	clock    Clock
	sink     Sink
	log      logrus.FieldLogger
	rec      Recorder
	minFee   Amount
	validity time.Duration
	self     *Registration
}

// New creates a registry administered by admin. The administrator cannot be
// changed afterwards.
func New(ctx context.Context, admin Identity, store Store, opts ...Option) (*Registry, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("administrator: %w", ErrInvalidSubject)
	}
	if store == nil {
		return nil, errors.New("registry: nil store")
	}
	r := &Registry{
		admin:    admin,
		store:    store,
		clock:    SystemClock,
		sink:     discardSink{},
		log:      logrus.StandardLogger(),
		minFee:   MinFee,
		validity: ValidityPeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.validity <= 0 {
		return nil, fmt.Errorf("registry: validity period must be positive, got %s", r.validity)
	}
	if r.self != nil {
		if err := r.selfCertify(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Administrator returns the identity allowed to approve and revoke.
func (r *Registry) Administrator() Identity {
	return r.admin
}

// MinFee returns the minimum value accepted with a submission or renewal.
func (r *Registry) MinFee() Amount {
	return r.minFee
}

// ValidityPeriod returns the length of an approval window.
func (r *Registry) ValidityPeriod() time.Duration {
	return r.validity
}

func (r *Registry) selfCertify(ctx context.Context) error {
	subject, domain := r.self.Subject, r.self.Domain
	if subject.IsZero() {
		return fmt.Errorf("self certification: %w", ErrInvalidSubject)
	}
	if strings.TrimSpace(domain) == "" {
		return fmt.Errorf("self certification: %w", ErrInvalidDomain)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.store.Get(ctx, subject)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("self certification: %w", err)
	}

	now := r.clock.Now()
	reg := &Registration{
		Subject:     subject,
		Domain:      domain,
		Owner:       r.admin,
		Status:      StatusApproved,
		SubmittedAt: now,
		ApprovedAt:  now,
		ExpiresAt:   now.Add(r.validity),
		UpdatedAt:   now,
	}
	if err := r.store.Save(ctx, reg, 0); err != nil {
		return fmt.Errorf("self certification: %w", err)
	}
	r.log.WithFields(logrus.Fields{"subject": subject, "domain": domain}).Info("Self certification recorded")
	r.publish(ctx, newEvent(EventApproved, reg, r.admin, 0, now))
	return nil
}

// Submit asks for domain to be certified as belonging to subject. The caller
// becomes the owner of the registration and pays at least the minimum fee,
// which stays in escrow. The registration starts out pending.
func (r *Registry) Submit(ctx context.Context, caller Caller, domain string, subject Identity, metadata string) (err error) {
	defer r.observe("submit", time.Now(), &err)

	if caller.Identity.IsZero() {
		return ErrUnauthorized
	}
	if strings.TrimSpace(domain) == "" {
		return ErrInvalidDomain
	}
	if subject.IsZero() {
		return ErrInvalidSubject
	}
	if caller.Value < r.minFee {
		return fmt.Errorf("%w: got %s, need %s", ErrInsufficientFee, caller.Value, r.minFee)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	existing, err := r.store.Get(ctx, subject)
	switch {
	case err == nil && existing.Status != StatusRevoked:
		return fmt.Errorf("%w: subject %s", ErrAlreadyRegistered, subject)
	case err != nil && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("load registration: %w", err)
	}

	holder, err := r.store.FindActiveByDomain(ctx, domain)
	switch {
	case err == nil:
		return fmt.Errorf("%w: domain %s is held by %s", ErrAlreadyRegistered, domain, holder.Subject)
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("load domain holder: %w", err)
	}
	if err := r.checkCredit(ctx, caller.Value); err != nil {
		return err
	}

	reg := &Registration{
		Subject:     subject,
		Domain:      domain,
		Owner:       caller.Identity,
		Metadata:    metadata,
		Status:      StatusPending,
		FeePaid:     caller.Value,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := r.store.Save(ctx, reg, caller.Value); err != nil {
		return fmt.Errorf("save registration: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"subject": subject,
		"domain":  domain,
		"owner":   caller.Identity,
		"fee":     caller.Value.String(),
	}).Info("Registration submitted for validation")
	r.publish(ctx, newEvent(EventSubmitted, reg, caller.Identity, caller.Value, now))
	return nil
}

// Approve certifies subject for one validity period starting now. Only the
// administrator may approve. Approving an approved registration restarts its
// window.
func (r *Registry) Approve(ctx context.Context, caller Caller, subject Identity) (err error) {
	defer r.observe("approve", time.Now(), &err)

	if caller.Identity != r.admin {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	reg, err := r.load(ctx, subject)
	if err != nil {
		return err
	}
	if reg.Status == StatusRevoked {
		return ErrRevoked
	}

	reg.Status = StatusApproved
	reg.ApprovedAt = now
	reg.ExpiresAt = now.Add(r.validity)
	reg.UpdatedAt = now
	if err := r.store.Save(ctx, reg, 0); err != nil {
		return fmt.Errorf("save registration: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"subject":    subject,
		"domain":     reg.Domain,
		"expires_at": reg.ExpiresAt,
	}).Info("Registration approved")
	r.publish(ctx, newEvent(EventApproved, reg, caller.Identity, 0, now))
	return nil
}

// Renew starts a fresh validity window from now. Only the owner may renew,
// the domain must match the stored one and the minimum fee is paid again.
// Pending and revoked registrations cannot be renewed.
func (r *Registry) Renew(ctx context.Context, caller Caller, subject Identity, domain string) (err error) {
	defer r.observe("renew", time.Now(), &err)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	reg, err := r.load(ctx, subject)
	if err != nil {
		return err
	}
	if caller.Identity.IsZero() || caller.Identity != reg.Owner {
		return ErrUnauthorized
	}
	if caller.Value < r.minFee {
		return fmt.Errorf("%w: got %s, need %s", ErrInsufficientFee, caller.Value, r.minFee)
	}
	if reg.Domain != domain {
		return fmt.Errorf("%w: registered for %q", ErrDomainMismatch, reg.Domain)
	}
	switch reg.Status {
	case StatusRevoked:
		return ErrRevoked
	case StatusPending:
		return ErrNotApproved
	}
	feePaid, ok := reg.FeePaid.Add(caller.Value)
	if !ok {
		return fmt.Errorf("%w: paid %s, fee %s", ErrFeeOverflow, reg.FeePaid, caller.Value)
	}
	if err := r.checkCredit(ctx, caller.Value); err != nil {
		return err
	}

	reg.Status = StatusApproved
	reg.ApprovedAt = now
	reg.ExpiresAt = now.Add(r.validity)
	reg.FeePaid = feePaid
	reg.UpdatedAt = now
	if err := r.store.Save(ctx, reg, caller.Value); err != nil {
		return fmt.Errorf("save registration: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"subject":    subject,
		"domain":     domain,
		"expires_at": reg.ExpiresAt,
		"fee":        caller.Value.String(),
	}).Info("Registration renewed")
	r.publish(ctx, newEvent(EventRenewed, reg, caller.Identity, caller.Value, now))
	return nil
}

// Revoke withdraws the certification of subject for good. Only the
// administrator may revoke.
func (r *Registry) Revoke(ctx context.Context, caller Caller, subject Identity) (err error) {
	defer r.observe("revoke", time.Now(), &err)

	if caller.Identity != r.admin {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	reg, err := r.load(ctx, subject)
	if err != nil {
		return err
	}

	reg.Status = StatusRevoked
	reg.RevokedAt = now
	reg.UpdatedAt = now
	if err := r.store.Save(ctx, reg, 0); err != nil {
		return fmt.Errorf("save registration: %w", err)
	}

	r.log.WithFields(logrus.Fields{"subject": subject, "domain": reg.Domain}).Info("Registration revoked")
	r.publish(ctx, newEvent(EventRevoked, reg, caller.Identity, 0, now))
	return nil
}

// Verify reports whether domain is currently certified as belonging to
// subject. A storage failure answers false.
func (r *Registry) Verify(ctx context.Context, subject Identity, domain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	reg, err := r.store.Get(ctx, subject)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.WithError(err).WithField("subject", subject).Error("Verify failed to load registration")
		}
		return false
	}
	return reg.VerifiedAt(domain, now)
}

// Owner returns the identity that submitted the registration for subject.
func (r *Registry) Owner(ctx context.Context, subject Identity) (Identity, error) {
	reg, _, err := r.Lookup(ctx, subject)
	if err != nil {
		return "", err
	}
	return reg.Owner, nil
}

// Status returns the current status of the registration for subject.
func (r *Registry) Status(ctx context.Context, subject Identity) (Status, error) {
	_, status, err := r.Lookup(ctx, subject)
	return status, err
}

// Lookup returns a copy of the registration for subject and its status now.
func (r *Registry) Lookup(ctx context.Context, subject Identity) (*Registration, Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	reg, err := r.load(ctx, subject)
	if err != nil {
		return nil, "", err
	}
	return reg, reg.StatusAt(now), nil
}

// Entry is a registration paired with its status at the time of listing.
type Entry struct {
	Registration *Registration
	Status       Status
}

// List returns every registration with its status now.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	regs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	entries := make([]Entry, len(regs))
	for i, reg := range regs {
		entries[i] = Entry{Registration: reg, Status: reg.StatusAt(now)}
	}
	return entries, nil
}

// Balance returns the fees collected so far. Only the administrator may ask.
func (r *Registry) Balance(ctx context.Context, caller Caller) (Amount, error) {
	if caller.Identity != r.admin {
		return 0, ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, err := r.store.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return bal, nil
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

func (r *Registry) load(ctx context.Context, subject Identity) (*Registration, error) {
	reg, err := r.store.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load registration: %w", err)
	}
	return reg, nil
}

// checkCredit rejects a fee the collected balance cannot hold.
func (r *Registry) checkCredit(ctx context.Context, value Amount) error {
	bal, err := r.store.Balance(ctx)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	if _, ok := bal.Add(value); !ok {
		return fmt.Errorf("%w: balance %s, fee %s", ErrFeeOverflow, bal, value)
	}
	return nil
}

func (r *Registry) publish(ctx context.Context, e Event) {
	if err := r.sink.Publish(ctx, e); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"event":   e.Kind,
			"subject": e.Subject,
		}).Warn("Failed to publish event")
	}
}

func (r *Registry) observe(operation string, start time.Time, err *error) {
	if *err != nil {
		r.log.WithError(*err).WithField("operation", operation).Debug("Request rejected")
	}
	if r.rec != nil {
		r.rec.Observe(operation, start, *err)
	}
}
