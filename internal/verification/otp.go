package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrCodeNotFound    = errors.New("no verification code pending")
	ErrInvalidCode     = errors.New("verification code rejected")
	ErrTooManyAttempts = errors.New("too many verification attempts")
	ErrCooldown        = errors.New("a code was sent recently, wait before requesting another")
)

// CodeStore persists hashed one-time codes keyed by lock id.
type CodeStore interface {
	// Reserve claims the resend window for lockID; false means a code was issued too recently.
	Reserve(ctx context.Context, lockID string, cooldown time.Duration) (bool, error)
	Save(ctx context.Context, lockID string, hash []byte, ttl time.Duration) error
	Load(ctx context.Context, lockID string) ([]byte, error)
	IncrAttempts(ctx context.Context, lockID string, ttl time.Duration) (int64, error)
	// Consume deletes the code only if it still equals hash, so a code verifies once.
	Consume(ctx context.Context, lockID string, hash []byte) (bool, error)
	// Release drops the pending code and the resend window for lockID.
	Release(ctx context.Context, lockID string) error
}

type Delivery struct {
	LockID    string    `json:"lock_id"`
	OwnerID   string    `json:"owner_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sender hands a fresh code to whatever channel reaches the patient.
type Sender interface {
	SendOTP(ctx context.Context, d Delivery) error
}

type OTPOptions struct {
	Length      int
	MaxAttempts int
	Cooldown    time.Duration
	BcryptCost  int
}

type OTPService struct {
	store  CodeStore
	sender Sender
	opts   OTPOptions
	log    *zap.Logger
	now    func() time.Time
}

func NewOTPService(store CodeStore, sender Sender, opts OTPOptions, log *zap.Logger) *OTPService {
	if opts.Length <= 0 {
		opts.Length = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &OTPService{store: store, sender: sender, opts: opts, log: log, now: time.Now}
}

// Issue generates a code for lockID valid for ttl and sends it. When the code
// never reaches the sender the resend window is given back.
func (s *OTPService) Issue(ctx context.Context, lockID, ownerID string, ttl time.Duration) error {
	if s.opts.Cooldown > 0 {
		ok, err := s.store.Reserve(ctx, lockID, s.opts.Cooldown)
		if err != nil {
			return fmt.Errorf("reserve otp window: %w", err)
		}
		if !ok {
			return ErrCooldown
		}
	}

	if err := s.deliver(ctx, lockID, ownerID, ttl); err != nil {
		s.release(ctx, lockID)
		return err
	}

	s.log.Info("otp issued", zap.String("lock_id", lockID), zap.Duration("ttl", ttl))
	return nil
}

func (s *OTPService) deliver(ctx context.Context, lockID, ownerID string, ttl time.Duration) error {
	code, err := generateCode(s.opts.Length)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	if err := s.store.Save(ctx, lockID, hash, ttl); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}

	d := Delivery{LockID: lockID, OwnerID: ownerID, Code: code, ExpiresAt: s.now().Add(ttl)}
	if err := s.sender.SendOTP(ctx, d); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// release runs on a context detached from ctx so a cancelled request still
// clears its window.
func (s *OTPService) release(ctx context.Context, lockID string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.Release(relCtx, lockID); err != nil {
		s.log.Warn("release otp window", zap.String("lock_id", lockID), zap.Error(err))
	}
}

// Verify checks proof against the pending code for lockID and consumes it on success.
func (s *OTPService) Verify(ctx context.Context, lockID, _ string, proof string) error {
	hash, err := s.store.Load(ctx, lockID)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("load otp: %w", err)
	}

	attempts, err := s.store.IncrAttempts(ctx, lockID, time.Hour)
	if err != nil {
		return fmt.Errorf("count otp attempts: %w", err)
	}
	if attempts > int64(s.opts.MaxAttempts) {
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(proof)) != nil {
		s.log.Info("otp mismatch", zap.String("lock_id", lockID), zap.Int64("attempt", attempts))
		return ErrInvalidCode
	}

	ok, err := s.store.Consume(ctx, lockID, hash)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !ok {
		return ErrCodeNotFound
	}
	return nil
}

// IsRejection reports whether err means the proof was refused, as opposed to
// the verifier being unavailable.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrTooManyAttempts)
}

func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
