package payment

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EventReceiptIssued is the event emitted by the payment contract for every settled payment.
const EventReceiptIssued = "ReceiptIssued"

const payAndReceiptABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "receiptId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "payer", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "merchant", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "token", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "code", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "metaURI", "type": "string"}
    ],
    "name": "ReceiptIssued",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "merchant", "type": "address"},
      {"internalType": "string", "name": "code", "type": "string"},
      {"internalType": "string", "name": "metaURI", "type": "string"}
    ],
    "name": "payETH",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  }
]`

var (
	payAndReceiptABI     abi.ABI
	payAndReceiptABIOnce sync.Once
	payAndReceiptABIErr  error
)

// PayAndReceiptABI returns the parsed payment contract ABI.
func PayAndReceiptABI() (abi.ABI, error) {
	payAndReceiptABIOnce.Do(func() {
		payAndReceiptABI, payAndReceiptABIErr = abi.JSON(strings.NewReader(payAndReceiptABIJSON))
	})
	return payAndReceiptABI, payAndReceiptABIErr
}
