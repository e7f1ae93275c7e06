package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// otpDigits は確認コードの桁数。
const otpDigits = 6

var otpUpperBound = big.NewInt(1_000_000)

// generateOTPCode は暗号学的乱数から先頭ゼロ埋めの6桁コードを生成する。
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpUpperBound)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// isValidOTPFormat はcodeがちょうど6桁の半角数字かどうかを返す。
func isValidOTPFormat(code string) bool {
	if len(code) != otpDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// generateToken は推測不能な不透明トークンを生成する。
// 保留トークンとOAuthのstateに使用する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
