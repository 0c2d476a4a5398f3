package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/logger"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/auth"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/event"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/notify"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/repository"
)

// Dependencies holds the collaborators of a SessionAuthority.
type Dependencies struct {
	Principals repository.PrincipalRepository
	Secrets    repository.SecretRepository
	Tx         repository.Transactor
	Tokens     *auth.TokenCodec
	Resolver   *auth.Resolver
	Passwords  auth.PasswordHasher
	Issuer     *auth.EphemeralIssuer
	Limiter    auth.AttemptLimiter
	Notifier   notify.Notifier
	Producer   *event.Producer
	Logger     *slog.Logger
}

// Lifetimes configures how long issued ephemeral secrets stay valid.
type Lifetimes struct {
	Reset time.Duration
	OTP   time.Duration
}

// SessionAuthority implements the credential flows: login, refresh,
// identify, change password, password reset and contact verification.
type SessionAuthority struct {
	principals repository.PrincipalRepository
	secrets    repository.SecretRepository
	tx         repository.Transactor
	tokens     *auth.TokenCodec
	resolver   *auth.Resolver
	passwords  auth.PasswordHasher
	policy     auth.PasswordPolicy
	issuer     *auth.EphemeralIssuer
	limiter    auth.AttemptLimiter
	notifier   notify.Notifier
	producer   *event.Producer
	lifetimes  Lifetimes
	logger     *slog.Logger
	now        func() time.Time
}

// NewSessionAuthority creates a SessionAuthority.
func NewSessionAuthority(deps Dependencies, lifetimes Lifetimes) *SessionAuthority {
	return &SessionAuthority{
		principals: deps.Principals,
		secrets:    deps.Secrets,
		tx:         deps.Tx,
		tokens:     deps.Tokens,
		resolver:   deps.Resolver,
		passwords:  deps.Passwords,
		issuer:     deps.Issuer,
		limiter:    deps.Limiter,
		notifier:   deps.Notifier,
		producer:   deps.Producer,
		lifetimes:  lifetimes,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// --- Input/Output types ---

// LoginInput holds the parameters for a password login.
type LoginInput struct {
	Identifier string
	Password   string
}

// ChangePasswordInput holds the parameters for changing a password.
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// ConfirmResetInput holds the parameters for completing a password reset.
type ConfirmResetInput struct {
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// VerificationChallenge describes an issued contact verification code
// without revealing it.
type VerificationChallenge struct {
	Purpose     domain.Purpose `json:"purpose"`
	Channel     domain.Channel `json:"channel"`
	Destination string         `json:"destination"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// --- Login / session ---

// Login authenticates an email or phone number with a password and returns
// a token pair. Unknown identifiers and wrong passwords are
// indistinguishable to the caller.
func (s *SessionAuthority) Login(ctx context.Context, input LoginInput) (p *domain.Principal, pair *domain.TokenPair, err error) {
	defer func() { observe(flowLogin, err) }()

	var reasons []string
	if input.Identifier == "" {
		reasons = append(reasons, "identifier is required")
	}
	if input.Password == "" {
		reasons = append(reasons, "password is required")
	}
	if len(reasons) > 0 {
		return nil, nil, apperrors.ValidationFailed("invalid login request", reasons)
	}

	p, err = s.principals.GetByIdentifier(ctx, input.Identifier)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.Unauthenticated("invalid credentials", nil)
		}
		return nil, nil, fmt.Errorf("load principal: %w", err)
	}
	if !s.passwords.Verify(input.Password, p.PasswordHash) {
		return nil, nil, apperrors.Unauthenticated("invalid credentials", nil)
	}
	if !p.IsActive {
		return nil, nil, apperrors.Forbidden("account is inactive")
	}

	if s.passwords.NeedsRehash(p.PasswordHash) {
		s.upgradeHash(ctx, p, input.Password)
	}

	pair, err = s.tokens.IssuePair(p.Subject())
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "principal logged in",
		slog.String("principal_id", p.ID),
	)
	return p, pair, nil
}

// upgradeHash rewrites a digest produced by an older algorithm. Failures
// only cost the upgrade.
func (s *SessionAuthority) upgradeHash(ctx context.Context, p *domain.Principal, password string) {
	digest, err := s.passwords.Hash(password)
	if err == nil {
		err = s.principals.UpdatePasswordHash(ctx, p.ID, digest)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password hash",
			slog.String("principal_id", p.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	p.PasswordHash = digest
	s.logger.InfoContext(ctx, "password hash upgraded", slog.String("principal_id", p.ID))
}

// Refresh exchanges a refresh token for a new token pair.
func (s *SessionAuthority) Refresh(ctx context.Context, refreshToken string) (pair *domain.TokenPair, err error) {
	defer func() { observe(flowRefresh, err) }()

	if refreshToken == "" {
		return nil, apperrors.ValidationFailed("invalid refresh request", []string{"refresh_token is required"})
	}

	claims, err := s.tokens.Verify(refreshToken, auth.PurposeRefresh)
	if err != nil {
		msg := "invalid refresh token"
		if errors.Is(err, apperrors.ErrExpired) {
			msg = "refresh token has expired"
		}
		return nil, apperrors.Unauthenticated(msg, err)
	}

	p, err := s.principals.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthenticated("unknown principal", nil)
		}
		return nil, fmt.Errorf("load principal: %w", err)
	}
	if !p.IsActive {
		return nil, apperrors.Forbidden("account is inactive")
	}

	return s.tokens.IssuePair(p.Subject())
}

// Identify resolves the principal behind a request's credentials.
func (s *SessionAuthority) Identify(ctx context.Context, creds auth.Credentials) (*domain.Principal, error) {
	return s.resolver.Resolve(ctx, creds)
}

// --- Password change ---

// ChangePassword replaces the password of an authenticated principal.
// Validation failures and a wrong current password never reach storage.
func (s *SessionAuthority) ChangePassword(ctx context.Context, p *domain.Principal, input ChangePasswordInput) (err error) {
	defer func() { observe(flowChangePassword, err) }()

	var missing []string
	if input.CurrentPassword == "" {
		missing = append(missing, "current_password is required")
	}
	if input.NewPassword == "" {
		missing = append(missing, "new_password is required")
	}
	if input.ConfirmPassword == "" {
		missing = append(missing, "confirm_password is required")
	}
	if len(missing) > 0 {
		return apperrors.ValidationFailed("missing required fields", missing)
	}
	if err := s.checkNewPassword(input.NewPassword, input.ConfirmPassword); err != nil {
		return err
	}
	if !s.passwords.Verify(input.CurrentPassword, p.PasswordHash) {
		return apperrors.Mismatch("current password is incorrect")
	}

	digest, err := s.passwords.Hash(input.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.principals.UpdatePasswordHash(ctx, p.ID, digest); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	p.PasswordHash = digest

	now := s.now().UTC()
	s.logger.InfoContext(ctx, "password changed", slog.String("principal_id", p.ID))
	s.notifyPasswordChanged(ctx, p, now)
	if err := s.producer.PublishPasswordChanged(ctx, p.ID, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish identity.password_changed event",
			slog.String("principal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *SessionAuthority) checkNewPassword(password, confirm string) error {
	if password != confirm {
		return apperrors.ValidationFailed("password confirmation does not match", []string{"passwords do not match"})
	}
	if reasons := s.policy.Validate(password); len(reasons) > 0 {
		return apperrors.ValidationFailed("password does not meet requirements", reasons)
	}
	return nil
}

// notifyPasswordChanged sends the security alert. Its outcome never affects
// the password change.
func (s *SessionAuthority) notifyPasswordChanged(ctx context.Context, p *domain.Principal, at time.Time) {
	channel, destination := preferredContact(p)
	if destination == "" {
		return
	}
	err := s.notifier.Deliver(ctx, channel, destination, notify.Payload{
		Template:    notify.TemplatePasswordChanged,
		PrincipalID: p.ID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "security notification failed",
			slog.String("principal_id", p.ID),
			slog.String("destination", logger.MaskDestination(destination)),
			slog.Time("changed_at", at),
			slog.String("error", err.Error()),
		)
	}
}

// preferredContact picks email when the principal has one, SMS otherwise.
func preferredContact(p *domain.Principal) (domain.Channel, string) {
	if p.Email != "" {
		return domain.ChannelEmail, p.Email
	}
	return domain.ChannelSMS, p.Phone
}

// --- Password reset ---

// RequestPasswordReset issues a reset secret and delivers it to the
// principal. Unknown or inactive identifiers succeed without effect.
func (s *SessionAuthority) RequestPasswordReset(ctx context.Context, identifier string) (err error) {
	defer func() { observe(flowResetRequest, err) }()

	if identifier == "" {
		return apperrors.ValidationFailed("invalid reset request", []string{"identifier is required"})
	}

	p, err := s.principals.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown identifier")
			return nil
		}
		return fmt.Errorf("load principal: %w", err)
	}
	if !p.IsActive {
		s.logger.InfoContext(ctx, "password reset requested for inactive principal",
			slog.String("principal_id", p.ID),
		)
		return nil
	}

	channel, destination := preferredContact(p)
	if destination == "" {
		s.logger.WarnContext(ctx, "principal has no contact for password reset",
			slog.String("principal_id", p.ID),
		)
		return nil
	}

	raw, record, err := s.issue(ctx, p.ID, domain.PurposeReset, s.lifetimes.Reset, channel, destination)
	if err != nil {
		return err
	}

	err = s.notifier.Deliver(ctx, channel, destination, notify.Payload{
		Template:    notify.TemplatePasswordReset,
		PrincipalID: p.ID,
		Secret:      raw,
		ExpiresAt:   &record.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("deliver password reset: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset issued",
		slog.String("principal_id", p.ID),
		slog.String("channel", string(channel)),
	)
	return nil
}

// issue creates a secret and persists it after expiring any outstanding
// secret of the same purpose.
func (s *SessionAuthority) issue(ctx context.Context, principalID string, purpose domain.Purpose, lifetime time.Duration, channel domain.Channel, destination string) (string, *domain.EphemeralSecret, error) {
	raw, record, err := s.issuer.Issue(principalID, purpose, lifetime)
	if err != nil {
		return "", nil, err
	}
	record.Channel = channel
	record.Destination = destination

	err = s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		if _, err := store.Secrets.InvalidateOutstanding(ctx, principalID, purpose, record.CreatedAt); err != nil {
			return err
		}
		return store.Secrets.Create(ctx, record)
	})
	if err != nil {
		return "", nil, fmt.Errorf("store %s secret: %w", purpose, err)
	}
	return raw, record, nil
}

// ConfirmPasswordReset consumes a reset secret and sets the new password in
// one transaction.
func (s *SessionAuthority) ConfirmPasswordReset(ctx context.Context, input ConfirmResetInput) (err error) {
	defer func() { observe(flowResetConfirm, err) }()

	var missing []string
	if input.Token == "" {
		missing = append(missing, "token is required")
	}
	if input.NewPassword == "" {
		missing = append(missing, "new_password is required")
	}
	if input.ConfirmPassword == "" {
		missing = append(missing, "confirm_password is required")
	}
	if len(missing) > 0 {
		return apperrors.ValidationFailed("missing required fields", missing)
	}
	if err := s.checkNewPassword(input.NewPassword, input.ConfirmPassword); err != nil {
		return err
	}

	record, err := s.secrets.GetByHash(ctx, domain.PurposeReset, s.issuer.Digest(input.Token))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidToken("reset token is invalid")
		}
		return fmt.Errorf("load reset secret: %w", err)
	}

	digest, err := s.passwords.Hash(input.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		if err := s.issuer.VerifyAndConsume(ctx, store.Secrets, record, input.Token); err != nil {
			return err
		}
		return store.Principals.UpdatePasswordHash(ctx, record.PrincipalID, digest)
	})
	if err != nil {
		return err
	}

	now := s.now().UTC()
	s.logger.InfoContext(ctx, "password reset completed", slog.String("principal_id", record.PrincipalID))

	if p, err := s.principals.GetByID(ctx, record.PrincipalID); err == nil {
		s.notifyPasswordChanged(ctx, p, now)
	}
	if err := s.producer.PublishPasswordReset(ctx, record.PrincipalID, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish identity.password_reset event",
			slog.String("principal_id", record.PrincipalID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// --- Contact verification ---

// RequestContactVerification issues a one-time code for the principal's
// phone or email. Phone codes go out over SMS unless WhatsApp is asked for.
func (s *SessionAuthority) RequestContactVerification(ctx context.Context, p *domain.Principal, purpose domain.Purpose, channel domain.Channel) (ch *VerificationChallenge, err error) {
	defer func() { observe(flowVerifyRequest, err) }()

	var (
		destination string
		verified    bool
	)
	switch purpose {
	case domain.PurposePhone:
		destination, verified = p.Phone, p.PhoneVerified
		switch channel {
		case "":
			channel = domain.ChannelSMS
		case domain.ChannelSMS, domain.ChannelWhatsApp:
		default:
			return nil, apperrors.InvalidInput(fmt.Sprintf("channel %q cannot verify a phone number", channel))
		}
	case domain.PurposeEmail:
		destination, verified = p.Email, p.EmailVerified
		if channel != "" && channel != domain.ChannelEmail {
			return nil, apperrors.InvalidInput(fmt.Sprintf("channel %q cannot verify an email address", channel))
		}
		channel = domain.ChannelEmail
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unsupported verification purpose %q", purpose))
	}
	if destination == "" {
		return nil, apperrors.InvalidInput(fmt.Sprintf("no %s on file", purpose))
	}
	if verified {
		return nil, apperrors.Conflict(fmt.Sprintf("%s is already verified", purpose))
	}

	raw, record, err := s.issue(ctx, p.ID, purpose, s.lifetimes.OTP, channel, destination)
	if err != nil {
		return nil, err
	}

	err = s.notifier.Deliver(ctx, channel, destination, notify.Payload{
		Template:    notify.TemplateContactVerification,
		PrincipalID: p.ID,
		Secret:      raw,
		ExpiresAt:   &record.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("deliver verification code: %w", err)
	}

	return &VerificationChallenge{
		Purpose:     purpose,
		Channel:     channel,
		Destination: logger.MaskDestination(destination),
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// ConfirmContactVerification checks a code against the newest outstanding
// secret and sets the matching verification flag. Every attempt counts
// toward a limit that spans one OTP lifetime and is cleared on success.
func (s *SessionAuthority) ConfirmContactVerification(ctx context.Context, p *domain.Principal, purpose domain.Purpose, code string) (err error) {
	defer func() { observe(flowVerifyConfirm, err) }()

	if code == "" {
		return apperrors.ValidationFailed("invalid verification request", []string{"code is required"})
	}

	// The attempt is counted before the code is compared so concurrent
	// guesses cannot all pass the check ahead of the first failure.
	key := attemptKey(p.ID, purpose)
	allowed, err := s.limiter.Attempt(ctx, key, s.lifetimes.OTP)
	if err != nil {
		return fmt.Errorf("count verification attempt: %w", err)
	}
	if !allowed {
		return apperrors.TooManyRequests("too many failed attempts, request a new code later")
	}

	record, err := s.secrets.GetLatestActive(ctx, p.ID, purpose)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("verification code", string(purpose))
		}
		return fmt.Errorf("load verification secret: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		if err := s.issuer.VerifyAndConsume(ctx, store.Secrets, record, code); err != nil {
			return err
		}
		return store.Principals.MarkContactVerified(ctx, p.ID, purpose)
	})
	if err != nil {
		return err
	}

	if purpose == domain.PurposePhone {
		p.PhoneVerified = true
	} else {
		p.EmailVerified = true
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to reset attempt counter",
			slog.String("principal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.producer.PublishContactVerified(ctx, p.ID, purpose, s.now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish identity.contact_verified event",
			slog.String("principal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "contact verified",
		slog.String("principal_id", p.ID),
		slog.String("purpose", string(purpose)),
	)
	return nil
}

func attemptKey(principalID string, purpose domain.Purpose) string {
	return "otp:" + principalID + ":" + string(purpose)
}
