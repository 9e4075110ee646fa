// Package validation provides input validation and unit conversion for
// bounty requests.
package validation

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Repository owner: alphanumeric with single hyphens, max 39 chars.
// Repository name: alphanumeric, '.', '-', '_', max 100 chars.
var (
	ownerRegex    = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)
	repoNameRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

// ValidateRepo validates an "owner/name" repository reference
func ValidateRepo(ref string) error {
	owner, name, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || owner == "" || name == "" {
		return errors.New("invalid repository: must be owner/name")
	}
	if !ownerRegex.MatchString(owner) {
		return fmt.Errorf("invalid repository owner %q", owner)
	}
	if !repoNameRegex.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid repository name %q", name)
	}
	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return errors.New("invalid address: must start with 0x")
	}
	if !isHex(addr[2:]) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidatePercent validates a completion percentage
func ValidatePercent(p int) error {
	if p < 0 || p > 100 {
		return errors.New("percentage must be between 0 and 100")
	}
	return nil
}

// ValidateDays validates a duration given in whole days
func ValidateDays(days int) error {
	if days <= 0 {
		return errors.New("duration must be at least one day")
	}
	return nil
}

const etherDecimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)

// ParseEther converts a decimal amount in the native unit ("0.1", "2") to wei
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount cannot be empty")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", s, etherDecimals)
	}

	wei, _ := new(big.Int).SetString(whole+frac+strings.Repeat("0", etherDecimals-len(frac)), 10)
	return wei, nil
}

// FormatEther renders wei in the native unit without trailing zeros
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Set(wei)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}

	whole, rem := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))
	if rem.Sign() == 0 {
		return sign + whole.String()
	}
	frac := rem.String()
	frac = strings.Repeat("0", etherDecimals-len(frac)) + frac
	return sign + whole.String() + "." + strings.TrimRight(frac, "0")
}

// ValidateVersion validates a semantic version string
func ValidateVersion(v string) error {
	normalized := strings.TrimPrefix(v, "v")
	if normalized == "" {
		return errors.New("version cannot be empty")
	}

	// semver library expects version to start with 'v'
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid semver version: must be in format X.Y.Z or X.Y.Z-prerelease")
	}

	mainPart, _, _ := strings.Cut(normalized, "-")
	mainPart, _, _ = strings.Cut(mainPart, "+")
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid semver version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	return semver.Compare("v"+strings.TrimPrefix(v1, "v"), "v"+strings.TrimPrefix(v2, "v"))
}

// Compatible reports whether a client at version may talk to a server that
// requires minVersion. Development builds and an empty requirement always pass.
func Compatible(version, minVersion string) bool {
	if minVersion == "" || version == "" || version == "dev" {
		return true
	}
	if ValidateVersion(version) != nil {
		return true
	}
	return CompareVersions(version, minVersion) >= 0
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return len(s) > 0
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
