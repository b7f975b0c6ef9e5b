package auth

import (
	"crypto/subtle"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	otpPeriod = 30
	otpSkew   = 1
)

// verifyOTPProof reports whether proof is a code valid at now (allowing one
// period of clock skew either way) sealed under itself.
func verifyOTPProof(secret string, proof []byte, now time.Time) bool {
	for i := -otpSkew; i <= otpSkew; i++ {
		t := now.Add(time.Duration(i*otpPeriod) * time.Second)
		code, err := totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
			Period:    otpPeriod,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return false
		}

		key, err := cryptox.OTPKey(code)
		if err != nil {
			return false
		}
		pt, err := cryptox.SymDecrypt(proof, key)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(pt, []byte(code)) == 1 {
			return true
		}
	}
	return false
}
