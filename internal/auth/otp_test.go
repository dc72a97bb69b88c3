package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vizboardhq/vizboard/internal/auth"
	"github.com/vizboardhq/vizboard/internal/db"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// captureMailer records the last code handed to it.
type captureMailer struct {
	email string
	code  string
}

func (m *captureMailer) SendOTP(_ context.Context, email, code string) error {
	m.email = email
	m.code = code
	return nil
}

func newOTPFixture(t *testing.T, ttl time.Duration) (*gorm.DB, *auth.OTPService, *captureMailer) {
	t.Helper()
	gdb, err := db.OpenSQLiteForTest()
	require.NoError(t, err)
	mailer := &captureMailer{}
	return gdb, auth.NewOTPService(gdb, mailer, ttl), mailer
}

func TestOTP_StartAndVerify(t *testing.T) {
	gdb, svc, mailer := newOTPFixture(t, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "pat@client.io", "dash-1"))
	assert.Equal(t, "pat@client.io", mailer.email)
	require.Len(t, mailer.code, 6)

	// The stored record holds a hash, never the code.
	var rec model.OTPCode
	require.NoError(t, gdb.First(&rec, "email = ?", "pat@client.io").Error)
	assert.NotEqual(t, mailer.code, rec.CodeHash)
	require.NotNil(t, rec.DashboardID)
	assert.Equal(t, "dash-1", *rec.DashboardID)

	out, err := svc.Verify(ctx, "pat@client.io", mailer.code)
	require.NoError(t, err)
	assert.NotNil(t, out.ConsumedAt)
}

func TestOTP_SingleUse(t *testing.T) {
	_, svc, mailer := newOTPFixture(t, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "pat@client.io", ""))
	_, err := svc.Verify(ctx, "pat@client.io", mailer.code)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, "pat@client.io", mailer.code)
	assert.ErrorIs(t, err, auth.ErrCodeInvalid)
}

func TestOTP_WrongCodeOrEmail(t *testing.T) {
	_, svc, mailer := newOTPFixture(t, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "pat@client.io", ""))

	_, err := svc.Verify(ctx, "pat@client.io", "000000")
	if mailer.code == "000000" {
		t.Skip("generated code collided with the guess")
	}
	assert.ErrorIs(t, err, auth.ErrCodeInvalid)

	_, err = svc.Verify(ctx, "other@client.io", mailer.code)
	assert.ErrorIs(t, err, auth.ErrCodeInvalid)
}

func TestOTP_Expiry(t *testing.T) {
	_, svc, mailer := newOTPFixture(t, -time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "pat@client.io", ""))
	_, err := svc.Verify(ctx, "pat@client.io", mailer.code)
	assert.ErrorIs(t, err, auth.ErrCodeExpired)
}
