package recovery

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"cmsapi/internal/auth"
	"cmsapi/internal/mail"
	"cmsapi/internal/metrics"
	"cmsapi/internal/model"
)

const (
	CodeTTL         = 15 * time.Minute
	ResetTokenTTL   = 10 * time.Minute
	RequestCooldown = 60 * time.Second
	ResendCooldown  = 30 * time.Second

	codeMin = 100000
	codeMax = 999999
)

var (
	// ErrThrottled is returned when a code was requested too recently.
	ErrThrottled = errors.New("recovery: request throttled")
	// ErrInvalidCode covers a missing session, an expired code and a wrong code.
	ErrInvalidCode = errors.New("recovery: invalid or expired code")
	// ErrSessionExpired is returned when the reset token has expired.
	ErrSessionExpired = errors.New("recovery: expired session")
	// ErrInvalidResetToken is returned when there is no verified session or the token does not match.
	ErrInvalidResetToken = errors.New("recovery: invalid reset token")
)

// Users is the part of the credential store the flow needs.
type Users interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, id uint, hash string) error
}

// Flow drives NoSession -> CodeIssued -> CodeVerified -> Consumed per email address.
type Flow struct {
	store  Store
	users  Users
	mailer mail.Mailer
	log    *logrus.Entry
	now    func() time.Time
}

// NewFlow wires the flow to its collaborators.
func NewFlow(store Store, users Users, mailer mail.Mailer, log *logrus.Entry) *Flow {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Flow{store: store, users: users, mailer: mailer, log: log, now: time.Now}
}

// WithClock swaps the time source. Tests only.
func (f *Flow) WithClock(now func() time.Time) *Flow {
	f.now = now
	return f
}

// RequestCode issues a code unless one was requested within RequestCooldown.
// Unknown emails succeed silently.
func (f *Flow) RequestCode(ctx context.Context, email string) error {
	return f.issue(ctx, email, RequestCooldown, "requested")
}

// ResendCode replaces the code unless one was requested within ResendCooldown.
func (f *Flow) ResendCode(ctx context.Context, email string) error {
	return f.issue(ctx, email, ResendCooldown, "resent")
}

func (f *Flow) issue(ctx context.Context, email string, cooldown time.Duration, event string) error {
	email = normalizeEmail(email)
	now := f.now()

	last, ok, err := f.store.LastRequest(ctx, email)
	if err != nil {
		return fmt.Errorf("read throttle: %w", err)
	}
	if ok && now.Sub(last) < cooldown {
		metrics.RecoveryEvents.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}
	if err := f.store.MarkRequest(ctx, email, now); err != nil {
		return fmt.Errorf("mark request: %w", err)
	}

	user, err := f.users.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecoveryEvents.WithLabelValues("unknown_email").Inc()
		f.log.Debug("recovery requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	session := &Session{UserID: user.ID, Code: code, ExpiresAt: now.Add(CodeTTL)}
	if err := f.store.PutSession(ctx, email, session); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	metrics.RecoveryEvents.WithLabelValues(event).Inc()

	if err := f.mailer.SendRecoveryCode(ctx, email, code, CodeTTL); err != nil {
		metrics.RecoveryEvents.WithLabelValues("mail_failed").Inc()
		f.log.WithError(err).WithField("userId", user.ID).Error("recovery code mail failed")
	}
	return nil
}

// VerifyCode exchanges a matching, unexpired code for a reset token.
// A wrong code leaves the session untouched.
func (f *Flow) VerifyCode(ctx context.Context, email, code string) (string, error) {
	email = normalizeEmail(email)
	now := f.now()

	session, err := f.store.GetSession(ctx, email)
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	if session == nil {
		metrics.RecoveryEvents.WithLabelValues("invalid_code").Inc()
		return "", ErrInvalidCode
	}
	if !now.Before(session.ExpiresAt) {
		_ = f.store.DeleteSession(ctx, email)
		metrics.RecoveryEvents.WithLabelValues("expired").Inc()
		return "", ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(session.Code), []byte(strings.TrimSpace(code))) != 1 {
		metrics.RecoveryEvents.WithLabelValues("invalid_code").Inc()
		return "", ErrInvalidCode
	}

	token, err := resetToken(email, now)
	if err != nil {
		return "", err
	}
	session.ResetToken = token
	session.ResetTokenExpiresAt = now.Add(ResetTokenTTL)
	if err := f.store.PutSession(ctx, email, session); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	metrics.RecoveryEvents.WithLabelValues("verified").Inc()
	return token, nil
}

// ResetPassword sets a new password for a verified session and ends it.
func (f *Flow) ResetPassword(ctx context.Context, email, token, password string) error {
	email = normalizeEmail(email)
	now := f.now()

	session, err := f.store.GetSession(ctx, email)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if session == nil || !session.Verified() {
		metrics.RecoveryEvents.WithLabelValues("invalid_token").Inc()
		return ErrInvalidResetToken
	}
	if !now.Before(session.ResetTokenExpiresAt) {
		_ = f.store.DeleteSession(ctx, email)
		metrics.RecoveryEvents.WithLabelValues("expired").Inc()
		return ErrSessionExpired
	}
	if subtle.ConstantTimeCompare([]byte(session.ResetToken), []byte(strings.TrimSpace(token))) != 1 {
		metrics.RecoveryEvents.WithLabelValues("invalid_token").Inc()
		return ErrInvalidResetToken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := f.users.UpdatePassword(ctx, session.UserID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := f.store.DeleteSession(ctx, email); err != nil {
		f.log.WithError(err).Warn("recovery session not deleted after reset")
	}
	metrics.RecoveryEvents.WithLabelValues("reset").Inc()
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateCode returns a uniform six digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// resetToken hashes the email, the verification time and a random salt.
func resetToken(email string, at time.Time) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := sha256.New()
	sum.Write([]byte(email))
	sum.Write([]byte(strconv.FormatInt(at.UnixNano(), 10)))
	sum.Write(salt)
	return hex.EncodeToString(sum.Sum(nil)), nil
}
