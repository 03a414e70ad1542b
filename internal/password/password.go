// Package password hashes, checks and generates data source user passwords.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/validation"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// Hash returns an encoded Argon2id hash.
func Hash(plain string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plain), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches encoded.
func Verify(plain, encoded string) bool {
	p, ok := decode(encoded)
	if !ok {
		return false
	}
	check := argon2.IDKey([]byte(plain), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(p.key, check) == 1
}

func decode(encoded string) (params, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return params{}, false
	}

	var p params
	for _, kv := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return params{}, false
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return params{}, false
		}
		switch key {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			if n > 255 {
				return params{}, false
			}
			p.threads = uint8(n)
		default:
			return params{}, false
		}
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return params{}, false
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return params{}, false
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return params{}, false
	}
	return p, true
}

// CheckRule validates plain against rule. A nil rule only forbids empty passwords.
func CheckRule(plain string, rule *dsdomain.PasswordRule) error {
	errs := &validation.Errors{}
	if plain == "" {
		return errs.Add("password", "required", "is required")
	}
	if rule == nil {
		return nil
	}

	if len([]rune(plain)) < rule.MinLength {
		errs.Add("password", "min_length", fmt.Sprintf("must be at least %d characters", rule.MinLength))
	}
	var lower, upper, digit, punct bool
	for _, r := range plain {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct = true
		}
	}
	if rule.ContainLowercase && !lower {
		errs.Add("password", "contain_lowercase", "must contain a lowercase letter")
	}
	if rule.ContainUppercase && !upper {
		errs.Add("password", "contain_uppercase", "must contain an uppercase letter")
	}
	if rule.ContainDigit && !digit {
		errs.Add("password", "contain_digit", "must contain a digit")
	}
	if rule.ContainPunctuation && !punct {
		errs.Add("password", "contain_punctuation", "must contain a punctuation character")
	}
	return errs.Err()
}

const (
	lowerChars = "abcdefghijkmnopqrstuvwxyz"
	upperChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars = "23456789"
	punctChars = "!@#$%^&*-_=+?"
)

// Generate returns a random password that satisfies rule.
func Generate(rule *dsdomain.PasswordRule) (string, error) {
	length := 12
	if rule != nil && rule.MinLength > length {
		length = rule.MinLength
	}

	// one of each class first, then fill from the full alphabet
	classes := []string{lowerChars, upperChars, digitChars, punctChars}
	out := make([]byte, 0, length)
	for _, set := range classes {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	all := strings.Join(classes, "")
	for len(out) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
