package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// HashParams tunes Argon2id for FlowForge's login path (spec §4.1): a
// request handler blocking on one hash, not a camera-ingest worker
// pool amortizing many in parallel, so the profile favors a higher
// iteration count over the teacher's wider parallelism.
type HashParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// LoginHashParams is tuned for the credential service's synchronous
// login/register/change-password handlers: 2 iterations over 64MB
// keeps a single hash under FlowForge's login latency budget while
// still costing an attacker real wall-clock time per guess.
var LoginHashParams = &HashParams{
	Memory:      64 * 1024, // 64 MB
	Iterations:  2,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword generates an encoded Argon2id hash using LoginHashParams.
func HashPassword(password string) (string, error) {
	salt := make([]byte, LoginHashParams.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, LoginHashParams.Iterations, LoginHashParams.Memory, LoginHashParams.Parallelism, LoginHashParams.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encodedHash := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, LoginHashParams.Memory, LoginHashParams.Iterations, LoginHashParams.Parallelism, b64Salt, b64Hash)
	return encodedHash, nil
}

// CheckPassword compares a password against an encoded hash, re-deriving
// with whatever params are embedded in the hash so a future change to
// LoginHashParams doesn't break verification of existing hashes.
func CheckPassword(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return false, errors.New("incompatible variant")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	if version != argon2.Version {
		return false, errors.New("incompatible version")
	}

	p := &HashParams{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}

	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	p.KeyLength = uint32(len(decodedHash))

	otherHash := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return subtle.ConstantTimeCompare(decodedHash, otherHash) == 1, nil
}
