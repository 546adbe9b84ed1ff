package session

import (
	"crypto/rand"
	"math/big"
)

const (
	codeAlphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
	codeSegmentLength = 13
)

// NewCode returns an opaque bearer code: two independently drawn base-36
// segments, 26 characters total. The code carries no payload and does not
// self-validate; expiry lives entirely in the session record. Uniqueness is
// assumed from the entropy, not verified.
func NewCode() (string, error) {
	first, err := randomSegment(codeSegmentLength)
	if err != nil {
		return "", err
	}
	second, err := randomSegment(codeSegmentLength)
	if err != nil {
		return "", err
	}
	return first + second, nil
}

func randomSegment(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		index, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[index.Int64()]
	}
	return string(buf), nil
}
