package services

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"strings"

	"github.com/charlesng35/sftpgate/internal/sftp"
)

// DefaultChecksumAlgorithm is used when no algorithm is requested.
const DefaultChecksumAlgorithm = "SHA256"

var checksumAlgorithms = map[string]func() hash.Hash{
	"MD5":    md5.New,
	"SHA1":   sha1.New,
	"SHA256": sha256.New,
	"SHA512": sha512.New,
}

// newChecksumHash returns the canonical algorithm name and a fresh hash. Names
// are case-insensitive and may contain a dash ("sha-256").
func newChecksumHash(algorithm string) (string, hash.Hash, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(algorithm), "-", ""))
	if name == "" {
		name = DefaultChecksumAlgorithm
	}
	ctor, ok := checksumAlgorithms[name]
	if !ok {
		return "", nil, sftp.Validationf("unsupported checksum algorithm %q", algorithm)
	}
	return name, ctor(), nil
}
