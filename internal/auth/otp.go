package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// Verification errors returned by OTPService.Verify.
var (
	ErrCodeInvalid = errors.New("verification code is invalid")
	ErrCodeExpired = errors.New("verification code has expired")
)

// Mailer delivers transactional email. The real sender is an external
// collaborator; LogMailer is used in development and tests.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
}

// LogMailer writes codes to the structured log instead of sending mail.
type LogMailer struct {
	Log *slog.Logger
}

// SendOTP logs the code at debug level.
func (m *LogMailer) SendOTP(_ context.Context, email, code string) error {
	m.Log.Debug("otp code issued", "email", email, "code", code)
	return nil
}

// OTPService issues and verifies single-use email codes. Codes are stored
// as SHA-256 hashes and expire after the configured TTL.
type OTPService struct {
	db     *gorm.DB
	mailer Mailer
	ttl    time.Duration
}

// NewOTPService creates an OTPService.
func NewOTPService(db *gorm.DB, mailer Mailer, ttl time.Duration) *OTPService {
	return &OTPService{db: db, mailer: mailer, ttl: ttl}
}

// Start generates a 6-digit code for email, persists its hash, and hands it
// to the mailer. dashboardID carries the share context and may be empty.
func (s *OTPService) Start(ctx context.Context, email, dashboardID string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate otp code: %w", err)
	}

	rec := &model.OTPCode{
		Email:     email,
		CodeHash:  HashToken(code),
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if dashboardID != "" {
		rec.DashboardID = &dashboardID
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("store otp code: %w", err)
	}
	return s.mailer.SendOTP(ctx, email, code)
}

// Verify consumes the most recent unconsumed code for email. A code can be
// verified exactly once; expired codes return ErrCodeExpired.
func (s *OTPService) Verify(ctx context.Context, email, code string) (*model.OTPCode, error) {
	var rec model.OTPCode
	err := s.db.WithContext(ctx).
		Where("email = ? AND code_hash = ? AND consumed_at IS NULL", email, HashToken(code)).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("lookup otp code: %w", err)
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&rec).Update("consumed_at", now).Error; err != nil {
		return nil, fmt.Errorf("consume otp code: %w", err)
	}
	return &rec, nil
}

// generateCode returns a zero-padded 6-digit numeric code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
