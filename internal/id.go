package internal

import "math/rand/v2"

// GenerateID returns a short random alphanumeric identifier. It is used to
// give every in-memory database a unique name so that independent stores
// don't share state through SQLite's shared cache.
func GenerateID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const n = 10
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}
