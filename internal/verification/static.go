package verification

import (
	"context"
	"crypto/subtle"
	"time"
)

// StaticVerifier accepts one fixed code for every lock. Local runs and the simulator only.
type StaticVerifier struct {
	code string
}

func NewStaticVerifier(code string) *StaticVerifier {
	return &StaticVerifier{code: code}
}

func (v *StaticVerifier) Issue(context.Context, string, string, time.Duration) error {
	return nil
}

func (v *StaticVerifier) Verify(_ context.Context, _, _ string, proof string) error {
	if subtle.ConstantTimeCompare([]byte(proof), []byte(v.code)) != 1 {
		return ErrInvalidCode
	}
	return nil
}
