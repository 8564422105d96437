package broker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func getName(prefix string) string {
	seed := make([]byte, 4)
	_, _ = rand.Read(seed)
	return fmt.Sprintf("%s-%x", prefix, seed)
}

// RandomSuffix returns a lowercase-hex string generated from n random
// bytes. Used by Fanout services to build a unique, non-colliding queue
// name per subscriber.
func RandomSuffix(n int) string {
	seed := make([]byte, n)
	_, _ = rand.Read(seed)
	return hex.EncodeToString(seed)
}
