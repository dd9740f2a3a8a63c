package peerchat

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/crypto/sha3"
)

// Classifier decides whether raw input is a literal address, a resolvable
// name, or invalid. The zero value accepts DefaultNameSuffix names.
type Classifier struct {
	Suffixes []string
}

var defaultClassifier = Classifier{}

// Classify classifies raw with the default name suffixes.
func Classify(raw string) Identifier {
	return defaultClassifier.Classify(raw)
}

func NewClassifier(suffixes []string) Classifier {
	return Classifier{Suffixes: normalizeSuffixes(suffixes)}
}

func (c Classifier) Classify(raw string) Identifier {
	value := strings.TrimSpace(raw)
	switch {
	case IsLiteralAddress(value):
		return Identifier{Raw: value, Kind: IdentifierLiteral}
	case c.isName(value):
		return Identifier{Raw: value, Kind: IdentifierName}
	default:
		return Identifier{Raw: value, Kind: IdentifierInvalid}
	}
}

func (c Classifier) isName(value string) bool {
	if value == "" || strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return false
	}
	lower := strings.ToLower(value)
	for _, suffix := range c.suffixes() {
		if !strings.HasSuffix(lower, suffix) {
			continue
		}
		head := strings.TrimSuffix(lower, suffix)
		if head == "" {
			return false
		}
		for _, label := range strings.Split(head, ".") {
			if label == "" {
				return false
			}
		}
		return true
	}
	return false
}

func (c Classifier) suffixes() []string {
	if len(c.Suffixes) == 0 {
		return []string{DefaultNameSuffix}
	}
	return c.Suffixes
}

func normalizeSuffixes(suffixes []string) []string {
	out := make([]string, 0, len(suffixes))
	seen := map[string]bool{}
	for _, raw := range suffixes {
		suffix := strings.ToLower(strings.TrimSpace(raw))
		if suffix == "" {
			continue
		}
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		if seen[suffix] {
			continue
		}
		seen[suffix] = true
		out = append(out, suffix)
	}
	return out
}

// IsLiteralAddress reports whether value is exactly 0x followed by 40 hex
// characters. The hex digits may be in any case; the prefix may not.
func IsLiteralAddress(value string) bool {
	if len(value) != 2+AddressHexLength {
		return false
	}
	if value[0] != '0' || value[1] != 'x' {
		return false
	}
	for i := 2; i < len(value); i++ {
		if !isHexDigit(value[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// NormalizeAddress returns the lowercase canonical form used for every
// address comparison.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func SameAddress(a string, b string) bool {
	a = NormalizeAddress(a)
	b = NormalizeAddress(b)
	return a != "" && a == b
}

// ChecksumAddress renders a literal address in EIP-55 mixed case. Input that
// is not a literal address is returned trimmed and unchanged.
func ChecksumAddress(address string) string {
	address = strings.TrimSpace(address)
	if !IsLiteralAddress(address) {
		return address
	}
	lower := strings.ToLower(address[2:])
	hasher := sha3.NewLegacyKeccak256()
	_, _ = hasher.Write([]byte(lower))
	digest := hex.EncodeToString(hasher.Sum(nil))

	out := make([]byte, 0, len(address))
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		ch := lower[i]
		if ch >= 'a' && ch <= 'f' && digest[i] >= '8' {
			ch -= 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}

// ShortAddress is the 0x1234...abcd display label.
func ShortAddress(address string) string {
	address = strings.TrimSpace(address)
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// AddressFromPublicKey derives an account address from the last 20 bytes of
// the Keccak-256 digest of an ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	hasher := sha3.NewLegacyKeccak256()
	_, _ = hasher.Write(pub)
	digest := hasher.Sum(nil)
	return "0x" + hex.EncodeToString(digest[len(digest)-20:])
}
