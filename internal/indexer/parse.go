package indexer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidContract is returned when the configured payment contract is not a valid address.
var ErrInvalidContract = errors.New("invalid contract address")

// ParseContract converts the configured contract address into common.Address.
func ParseContract(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidContract, input)
	}
	address := common.HexToAddress(input)
	if address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidContract)
	}
	return address, nil
}
