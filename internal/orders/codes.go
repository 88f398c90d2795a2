package orders

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// Order codes end up in bank-transfer memos typed by humans, so the alphabet
// drops 0/O/1/I/L. 8 chars over 31 symbols is ~39 bits: not guessable in a
// memo, still typeable.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const codeLen = 8

var codePattern = regexp.MustCompile(`ORD-[0-9A-Z]{4,12}`)

func NewOrderCode() (string, error) {
	buf := make([]byte, codeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate order code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "ORD-" + string(buf), nil
}

// ExtractOrderCode scans free-form memo text (bank transfer note) for the
// first thing shaped like an order code. Empty string if none.
func ExtractOrderCode(memo string) string {
	return codePattern.FindString(memo)
}
