// Package paymenttest builds ReceiptIssued logs for tests.
package paymenttest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"echopay/internal/payment"
)

// Contract is the payment contract address used by test logs.
var Contract = common.HexToAddress("0x9999999999999999999999999999999999999999")

// Receipt describes the fields of a ReceiptIssued log.
type Receipt struct {
	ReceiptID   int64
	Payer       common.Address
	Merchant    common.Address
	Token       common.Address
	Amount      string
	Code        string
	MetaURI     string
	BlockNumber uint64
	LogIndex    uint
}

// NewLog ABI-encodes r as a ReceiptIssued log. It panics on malformed input.
func NewLog(r Receipt) types.Log {
	parsed, err := payment.PayAndReceiptABI()
	if err != nil {
		panic(err)
	}
	event := parsed.Events[payment.EventReceiptIssued]

	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		panic("invalid amount " + r.Amount)
	}
	data, err := event.Inputs.NonIndexed().Pack(r.Token, amount, r.Code, r.MetaURI)
	if err != nil {
		panic(err)
	}

	return types.Log{
		Address: Contract,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(r.ReceiptID)),
			common.BytesToHash(r.Payer.Bytes()),
			common.BytesToHash(r.Merchant.Bytes()),
		},
		Data:        data,
		BlockNumber: r.BlockNumber,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(r.BlockNumber*1000 + uint64(r.LogIndex))),
		Index:       r.LogIndex,
	}
}

// UnrelatedLog returns a log from the contract whose topic0 is not ReceiptIssued.
func UnrelatedLog(blockNumber uint64, index uint) types.Log {
	return types.Log{
		Address:     Contract,
		Topics:      []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		Data:        []byte{0x01},
		BlockNumber: blockNumber,
		Index:       index,
	}
}
