package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandBytes fills out with cryptographically secure random bytes.
func RandBytes(out []byte) ([]byte, error) {
	if len(out) == 0 {
		return out, fmt.Errorf("output slice is empty")
	}
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("rand read: %w", err)
	}
	return out, nil
}

// Discriminator returns a random number in [100000, 999999] for
// disambiguating display names.
func Discriminator() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, fmt.Errorf("rand int: %w", err)
	}
	return int(n.Int64()) + 100000, nil
}
