package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeToken is the reserved address that denotes the chain's native asset.
var NativeToken = common.Address{}

// ReceiptEvent is a decoded ReceiptIssued log.
type ReceiptEvent struct {
	ReceiptID   *big.Int
	Payer       common.Address
	Merchant    common.Address
	Token       common.Address
	Amount      *big.Int
	Code        string
	MetaURI     string
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint64
}

// IsNative reports whether the payment was made in the native asset.
func (e ReceiptEvent) IsNative() bool {
	return e.Token == NativeToken
}

// Receipt is the stored receipt record. Code is the natural key.
type Receipt struct {
	ChainID       uint64           `json:"chainId"`
	ReceiptID     string           `json:"receiptId"`
	Payer         string           `json:"payer"`
	Merchant      string           `json:"merchant"`
	Token         string           `json:"token"`
	Amount        string           `json:"amount"`
	Code          string           `json:"code"`
	MetaURI       string           `json:"metaURI"`
	TxHash        string           `json:"txHash"`
	BlockNumber   uint64           `json:"blockNumber"`
	LogIndex      uint64           `json:"logIndex"`
	TokenSymbol   *string          `json:"tokenSymbol"`
	TokenDecimals *uint8           `json:"tokenDecimals"`
	UsdAtTx       *decimal.Decimal `json:"usdAtTx"`
	CreatedAt     time.Time        `json:"createdAt"`
}
