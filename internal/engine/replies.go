package engine

import (
	"fmt"
	"math/big"
	"time"

	"basednames/internal/names"

	"github.com/ethereum/go-ethereum/common"
)

const neutralReply = "I'm good"

func invalidNameReply(name string) string {
	return fmt.Sprintf("Sorry! 😬\n\n%q is not a valid basename! Must be 3+ alphanumeric characters.", name)
}

func unavailableNameReply(name string) string {
	return fmt.Sprintf("Sorry! 😬\n\nBasename %q is not available!", name+names.Suffix)
}

func instructionReply(name string, price *big.Int, address common.Address, window time.Duration) string {
	return fmt.Sprintf(
		"On it! 😎\n\nTo register %q, send %s ETH (Base) to: %s\n\nYou have %d minutes. Late? You might miss out & risk funds.\n\nTerms in Bio.",
		name+names.Suffix, names.FormatAmount(price), address.Hex(), int(window.Minutes()))
}

func successReply(name string, owner common.Address, explorerLink string) string {
	return fmt.Sprintf("Done! 😎\n\nRegistered %s to %s\n\ntx: %s", name+names.Suffix, owner.Hex(), explorerLink)
}
