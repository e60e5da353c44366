package port

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordHasher hashes plaintext passwords carried by staged records that
// arrive without a pre-computed hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
}
