// Package names holds the pure pricing and validation rules for basename
// registration requests. Nothing here touches the network; availability is a
// chain-side question answered elsewhere.
package names

import (
	"math/big"
	"regexp"
	"strings"
)

const Suffix = ".base.eth"

var (
	validPattern   = regexp.MustCompile(`^[a-zA-Z0-9]{3,}$`)
	mentionPattern = regexp.MustCompile(`(?i)[a-zA-Z0-9]{3,}\.base\.eth`)
)

// Registration prices in wei, tiered by label length.
var (
	priceThreeChars = big.NewInt(110000000000000000)
	priceFourChars  = big.NewInt(11000000000000000)
	priceLongChars  = big.NewInt(1100000000000000)
)

// Valid reports whether name is a syntactically acceptable label: three or
// more alphanumeric characters. This says nothing about on-chain
// availability.
func Valid(name string) bool {
	return validPattern.MatchString(name)
}

// PriceFor returns the registration price for a label. The price is a pure
// function of length and callers are expected to compute it exactly once per
// request. Callers must Valid-check first; labels below the three-character
// minimum fall into the most expensive tier rather than the cheapest one.
// The returned value is a fresh copy.
func PriceFor(name string) *big.Int {
	switch {
	case len(name) <= 3:
		return new(big.Int).Set(priceThreeChars)
	case len(name) == 4:
		return new(big.Int).Set(priceFourChars)
	default:
		return new(big.Int).Set(priceLongChars)
	}
}

// Extract pulls the first "<label>.base.eth" mention out of free-form post
// text and returns the lowercased label. Empty string when the text carries
// no mention.
func Extract(text string) string {
	match := mentionPattern.FindString(text)
	if match == "" {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(match), Suffix)
}

// FormatAmount renders a wei amount as a decimal ETH string truncated to at
// most seven characters, matching the quote copy posted in replies.
func FormatAmount(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Abs(wei)
	if wei.Sign() < 0 {
		sign = "-"
	}

	ether := new(big.Int)
	rem := new(big.Int)
	ether.QuoRem(abs, big.NewInt(1e18), rem)

	frac := strings.TrimRight(leftPad(rem.String(), 18), "0")
	out := ether.String()
	if frac != "" {
		out += "." + frac
	}
	if len(out) > 7 {
		out = strings.TrimRight(out[:7], ".")
	}
	return sign + out
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
