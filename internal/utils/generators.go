package utils

import (
	"crypto/rand"
	"math/big"
)

// Unambiguous alphabet: no 0/O or 1/I, since gate staff type these by hand.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const codeLength = 12

// GenerateTicketCode creates a 12-character human-enterable ticket code.
func GenerateTicketCode() string {
	code := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is unrecoverable for code issuance
			panic(err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code)
}
