package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/metrics"
)

// Store persists accounts. Implementations enforce uniqueness atomically and
// report violations as *entity.DuplicateFieldError without writing anything.
// Writes after creation are column-scoped so concurrent changes to other
// columns survive. All writes return entity.ErrNotFound for unknown ids.
type Store interface {
	Insert(ctx context.Context, a *entity.Account) (int64, error)
	// FindBy returns entity.ErrNotFound when nothing matches.
	FindBy(ctx context.Context, field, value string) (*entity.Account, error)
	// RecordLogin sets last_login only while the account is active and its
	// digest still equals digest; otherwise it returns entity.ErrStale.
	RecordLogin(ctx context.Context, id int64, at time.Time, digest string) error
	// UpdatePassword replaces the digest. A non-empty expect makes the write
	// conditional on the current digest, returning entity.ErrStale on mismatch.
	UpdatePassword(ctx context.Context, id int64, hash, algo, expect string) error
	UpdateTier(ctx context.Context, id int64, tier entity.Tier) error
	SetActive(ctx context.Context, id int64, active bool) error
}

var (
	ErrBadCredentials = errors.New("invalid credentials")
	ErrInactive       = errors.New("account inactive")
)

// Service is the only sanctioned way to create accounts with a credential.
type Service struct {
	store  Store
	hasher PasswordHasher
	logger *zap.SugaredLogger
	hashes *semaphore.Weighted

	now func() time.Time
}

// NewService wires the account core. A nil hasher selects argon2id with
// default parameters, a nil logger discards output. hashConcurrency bounds
// concurrent digest derivations; values below one mean one.
func NewService(store Store, hasher PasswordHasher, logger *zap.SugaredLogger, hashConcurrency int) *Service {
	if hasher == nil {
		hasher = Argon2idHasher{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if hashConcurrency < 1 {
		hashConcurrency = 1
	}
	return &Service{
		store:  store,
		hasher: hasher,
		logger: logger,
		hashes: semaphore.NewWeighted(int64(hashConcurrency)),
		now:    time.Now,
	}
}

// Option sets a tier flag explicitly. Flags not set take the defaults of the
// constructor being called.
type Option func(*flags)

type flags struct {
	staff, superuser, active *bool
}

func WithStaff(v bool) Option     { return func(f *flags) { f.staff = &v } }
func WithSuperuser(v bool) Option { return func(f *flags) { f.superuser = &v } }
func WithActive(v bool) Option    { return func(f *flags) { f.active = &v } }

// CreateUser creates an ordinary account: not staff, not superuser.
func (s *Service) CreateUser(ctx context.Context, in NewAccount, opts ...Option) (*entity.Account, error) {
	return s.create(ctx, in, entity.TierUser, opts)
}

// CreateStaffUser creates a staff account that is not a superuser.
func (s *Service) CreateStaffUser(ctx context.Context, in NewAccount, opts ...Option) (*entity.Account, error) {
	return s.create(ctx, in, entity.TierStaff, opts)
}

// CreateSuperuser creates an account holding the full tier.
func (s *Service) CreateSuperuser(ctx context.Context, in NewAccount, opts ...Option) (*entity.Account, error) {
	return s.create(ctx, in, entity.TierAdmin, opts)
}

// resolveTier applies the constructor defaults and rejects explicit flags that
// contradict the requested tier.
func resolveTier(tier entity.Tier, opts []Option) (active bool, err error) {
	var f flags
	for _, o := range opts {
		o(&f)
	}
	staff := tier >= entity.TierStaff
	if f.staff != nil {
		staff = *f.staff
	}
	superuser := tier == entity.TierAdmin
	if f.superuser != nil {
		superuser = *f.superuser
	}
	active = true
	if f.active != nil {
		active = *f.active
	}

	wantStaff := tier >= entity.TierStaff
	wantSuper := tier == entity.TierAdmin
	if staff != wantStaff {
		return false, &entity.TierInvariantError{Tier: tier, Flag: "is_staff", Want: wantStaff}
	}
	if superuser != wantSuper {
		return false, &entity.TierInvariantError{Tier: tier, Flag: "is_superuser", Want: wantSuper}
	}
	return active, nil
}

func (s *Service) create(ctx context.Context, in NewAccount, tier entity.Tier, opts []Option) (*entity.Account, error) {
	in = normalize(in)
	if err := validate(in); err != nil {
		metrics.ObserveAccountCreateFailure(tier.String(), "validation")
		return nil, err
	}
	active, err := resolveTier(tier, opts)
	if err != nil {
		metrics.ObserveAccountCreateFailure(tier.String(), "tier")
		s.logger.Warnw("account tier rejected", "email", in.Email, "tier", tier.String(), "err", err)
		return nil, err
	}

	a := &entity.Account{
		Email:      in.Email,
		Username:   in.Username,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		DateJoined: s.now().UTC(),
		IsActive:   active,
		Tier:       tier,
	}
	if err := s.setPassword(ctx, a, in.Password); err != nil {
		metrics.ObserveAccountCreateFailure(tier.String(), "internal")
		return nil, err
	}

	id, err := s.store.Insert(ctx, a)
	if err != nil {
		var dup *entity.DuplicateFieldError
		if errors.As(err, &dup) {
			metrics.ObserveAccountCreateFailure(tier.String(), "duplicate")
			s.logger.Debugw("account creation conflict", "field", dup.Field, "tier", tier.String())
			return nil, err
		}
		metrics.ObserveAccountCreateFailure(tier.String(), "internal")
		return nil, fmt.Errorf("insert account: %w", err)
	}
	a.ID = id

	metrics.ObserveAccountCreated(tier.String())
	s.logger.Infow("account created", "id", a.ID, "account", a.DisplayIdentifier(), "tier", tier.String())
	return a, nil
}

// setPassword assigns a fresh digest to an account that is not stored yet.
func (s *Service) setPassword(ctx context.Context, a *entity.Account, password string) error {
	hash, algo, err := s.hash(ctx, password)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	a.PasswordAlgo = algo
	return nil
}

func (s *Service) hash(ctx context.Context, password string) (string, string, error) {
	if err := s.hashes.Acquire(ctx, 1); err != nil {
		return "", "", fmt.Errorf("wait for hasher: %w", err)
	}
	defer s.hashes.Release(1)
	start := time.Now()
	hash, algo, err := s.hasher.Hash(password)
	metrics.ObservePasswordHash(time.Since(start))
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}
	return hash, algo, nil
}

// CheckPassword reports whether password matches the account's digest.
func (s *Service) CheckPassword(a *entity.Account, password string) bool {
	if a == nil || a.PasswordHash == "" {
		return false
	}
	return s.hasher.Verify(a.PasswordHash, password)
}

// Authenticate verifies a password for the account identified by email (when
// identifier contains '@') or username. Unknown identifiers and wrong
// passwords both yield ErrBadCredentials; a correct password on a deactivated
// account yields ErrInactive. On success LastLogin is updated and outdated
// digests are rehashed. A deactivation or password change that lands while the
// password is being verified wins over the login.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*entity.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		metrics.ObserveAuthentication("bad_credentials")
		return nil, ErrBadCredentials
	}

	a, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			// keep timing of unknown identifiers close to known ones
			_, _, _ = s.hash(ctx, password)
			metrics.ObserveAuthentication("bad_credentials")
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	if !s.CheckPassword(a, password) {
		metrics.ObserveAuthentication("bad_credentials")
		return nil, ErrBadCredentials
	}
	if !a.IsActive {
		metrics.ObserveAuthentication("inactive")
		return nil, ErrInactive
	}

	now := s.now().UTC()
	if err := s.store.RecordLogin(ctx, a.ID, now, a.PasswordHash); err != nil {
		if errors.Is(err, entity.ErrStale) {
			return nil, s.staleLogin(ctx, a.ID)
		}
		return nil, fmt.Errorf("record login: %w", err)
	}
	a.LastLogin = &now
	if s.hasher.NeedsRehash(a.PasswordHash) {
		s.rehash(ctx, a, password)
	}
	metrics.ObserveAuthentication("ok")
	return a, nil
}

// lookup resolves a login identifier. Identifiers with '@' are tried as an
// email first and then as a username, for accounts created before usernames
// were restricted.
func (s *Service) lookup(ctx context.Context, identifier string) (*entity.Account, error) {
	if !strings.Contains(identifier, "@") {
		return s.store.FindBy(ctx, entity.FieldUsername, NormalizeUsername(identifier))
	}
	a, err := s.store.FindBy(ctx, entity.FieldEmail, NormalizeEmail(identifier))
	if errors.Is(err, entity.ErrNotFound) {
		return s.store.FindBy(ctx, entity.FieldUsername, NormalizeUsername(identifier))
	}
	return a, err
}

// staleLogin decides the outcome of a login whose account changed after the
// password was verified.
func (s *Service) staleLogin(ctx context.Context, id int64) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reload account: %w", err)
	}
	if !cur.IsActive {
		metrics.ObserveAuthentication("inactive")
		return ErrInactive
	}
	metrics.ObserveAuthentication("bad_credentials")
	return ErrBadCredentials
}

// rehash upgrades the digest of a after a successful login. The write is
// skipped when the digest was replaced in the meantime.
func (s *Service) rehash(ctx context.Context, a *entity.Account, password string) {
	hash, algo, err := s.hash(ctx, password)
	if err != nil {
		s.logger.Warnw("password rehash failed", "account", a.DisplayIdentifier(), "err", err)
		return
	}
	switch err := s.store.UpdatePassword(ctx, a.ID, hash, algo, a.PasswordHash); {
	case errors.Is(err, entity.ErrStale):
		s.logger.Debugw("password changed during login; rehash skipped", "account", a.DisplayIdentifier())
	case err != nil:
		s.logger.Warnw("password rehash failed", "account", a.DisplayIdentifier(), "err", err)
	default:
		a.PasswordHash, a.PasswordAlgo = hash, algo
		s.logger.Infow("password rehashed", "account", a.DisplayIdentifier(), "algo", algo)
	}
}

// Get loads an account by id.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Account, error) {
	return s.store.FindBy(ctx, entity.FieldID, strconv.FormatInt(id, 10))
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return s.store.FindBy(ctx, entity.FieldEmail, NormalizeEmail(email))
}

func (s *Service) FindByUsername(ctx context.Context, username string) (*entity.Account, error) {
	return s.store.FindBy(ctx, entity.FieldUsername, NormalizeUsername(username))
}

// SetPassword replaces the account's digest with one derived from password.
func (s *Service) SetPassword(ctx context.Context, id int64, password string) error {
	if password == "" {
		return &entity.ValidationError{Field: entity.FieldPassword}
	}
	hash, algo, err := s.hash(ctx, password)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, id, hash, algo, ""); err != nil {
		return fmt.Errorf("update password of account %d: %w", id, err)
	}
	s.logger.Infow("account password changed", "id", id, "algo", algo)
	return nil
}

// SetTier moves an account to another tier. Staff and superuser flags are
// derived from the tier, so the superuser-implies-staff invariant holds.
func (s *Service) SetTier(ctx context.Context, id int64, tier entity.Tier) error {
	if tier < entity.TierUser || tier > entity.TierAdmin {
		return fmt.Errorf("invalid tier %d", int(tier))
	}
	if err := s.store.UpdateTier(ctx, id, tier); err != nil {
		return fmt.Errorf("update tier of account %d: %w", id, err)
	}
	s.logger.Infow("account tier changed", "id", id, "tier", tier.String())
	return nil
}

// Deactivate disables authentication for the account. Accounts are never
// deleted so that dependent records keep a valid reference.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, false)
}

func (s *Service) Reactivate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id int64, active bool) error {
	if err := s.store.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("update account %d: %w", id, err)
	}
	s.logger.Infow("account activation changed", "id", id, "active", active)
	return nil
}
