package verification

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memCodeStore struct {
	mu       sync.Mutex
	codes    map[string][]byte
	attempts map[string]int64
	reserved map[string]bool
}

func newMemCodeStore() *memCodeStore {
	return &memCodeStore{
		codes:    make(map[string][]byte),
		attempts: make(map[string]int64),
		reserved: make(map[string]bool),
	}
}

func (m *memCodeStore) Reserve(_ context.Context, lockID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[lockID] {
		return false, nil
	}
	m.reserved[lockID] = true
	return true, nil
}

func (m *memCodeStore) Save(_ context.Context, lockID string, hash []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[lockID] = hash
	delete(m.attempts, lockID)
	return nil
}

func (m *memCodeStore) Load(_ context.Context, lockID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.codes[lockID]
	if !ok {
		return nil, ErrCodeNotFound
	}
	return h, nil
}

func (m *memCodeStore) IncrAttempts(_ context.Context, lockID string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[lockID]++
	return m.attempts[lockID], nil
}

func (m *memCodeStore) Consume(_ context.Context, lockID string, hash []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !bytes.Equal(m.codes[lockID], hash) {
		return false, nil
	}
	delete(m.codes, lockID)
	return true, nil
}

func (m *memCodeStore) Release(_ context.Context, lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, lockID)
	delete(m.attempts, lockID)
	delete(m.reserved, lockID)
	return nil
}

var errBrokerDown = errors.New("broker down")

// captureSender records deliveries. Each of the first `failures` sends returns errBrokerDown.
type captureSender struct {
	sent     []Delivery
	failures int
}

func (c *captureSender) SendOTP(_ context.Context, d Delivery) error {
	if c.failures > 0 {
		c.failures--
		return errBrokerDown
	}
	c.sent = append(c.sent, d)
	return nil
}

func newTestOTP(cooldown time.Duration) (*OTPService, *captureSender) {
	sender := &captureSender{}
	svc := NewOTPService(newMemCodeStore(), sender, OTPOptions{
		Length:      4,
		MaxAttempts: 3,
		Cooldown:    cooldown,
		BcryptCost:  bcrypt.MinCost,
	}, zap.NewNop())
	return svc, sender
}

func TestOTP_IssueAndVerify(t *testing.T) {
	svc, sender := newTestOTP(0)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "lock-1", "patient-1", time.Minute))
	require.Len(t, sender.sent, 1)

	code := sender.sent[0].Code
	assert.Len(t, code, 4)
	assert.Equal(t, "patient-1", sender.sent[0].OwnerID)

	require.NoError(t, svc.Verify(ctx, "lock-1", "patient-1", code))

	// single use
	assert.ErrorIs(t, svc.Verify(ctx, "lock-1", "patient-1", code), ErrCodeNotFound)
}

func TestOTP_WrongCode(t *testing.T) {
	svc, sender := newTestOTP(0)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "lock-1", "patient-1", time.Minute))
	wrong := "0000"
	if sender.sent[0].Code == wrong {
		wrong = "1111"
	}

	assert.ErrorIs(t, svc.Verify(ctx, "lock-1", "patient-1", wrong), ErrInvalidCode)
	assert.NoError(t, svc.Verify(ctx, "lock-1", "patient-1", sender.sent[0].Code))
}

func TestOTP_AttemptLimit(t *testing.T) {
	svc, sender := newTestOTP(0)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "lock-1", "patient-1", time.Minute))
	wrong := "0000"
	if sender.sent[0].Code == wrong {
		wrong = "1111"
	}

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, svc.Verify(ctx, "lock-1", "patient-1", wrong), ErrInvalidCode)
	}
	assert.ErrorIs(t, svc.Verify(ctx, "lock-1", "patient-1", sender.sent[0].Code), ErrTooManyAttempts)
}

func TestOTP_NoPendingCode(t *testing.T) {
	svc, _ := newTestOTP(0)
	assert.ErrorIs(t, svc.Verify(context.Background(), "missing", "p", "1234"), ErrCodeNotFound)
}

func TestOTP_Cooldown(t *testing.T) {
	svc, sender := newTestOTP(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "lock-1", "patient-1", time.Minute))
	assert.ErrorIs(t, svc.Issue(ctx, "lock-1", "patient-1", time.Minute), ErrCooldown)
	assert.Len(t, sender.sent, 1)

	require.NoError(t, svc.Issue(ctx, "lock-2", "patient-1", time.Minute))
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier("1234")
	ctx := context.Background()

	require.NoError(t, v.Issue(ctx, "lock", "owner", time.Minute))
	assert.NoError(t, v.Verify(ctx, "lock", "owner", "1234"))
	assert.ErrorIs(t, v.Verify(ctx, "lock", "owner", "4321"), ErrInvalidCode)
}

func TestGenerateCode_DigitsOnly(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9', code)
		}
	}
}

func TestOTP_FailedSendFreesCooldown(t *testing.T) {
	svc, sender := newTestOTP(30 * time.Second)
	sender.failures = 1
	ctx := context.Background()

	err := svc.Issue(ctx, "lock-1", "P1", time.Minute)
	require.ErrorIs(t, err, errBrokerDown)
	assert.NotErrorIs(t, err, ErrCooldown)
	assert.ErrorIs(t, svc.Verify(ctx, "lock-1", "P1", "0000"), ErrCodeNotFound)

	require.NoError(t, svc.Issue(ctx, "lock-1", "P1", time.Minute))
	require.Len(t, sender.sent, 1)
	assert.ErrorIs(t, svc.Issue(ctx, "lock-1", "P1", time.Minute), ErrCooldown)

	require.NoError(t, svc.Verify(ctx, "lock-1", "P1", sender.sent[0].Code))
}
