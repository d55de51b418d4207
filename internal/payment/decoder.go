package payment

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"echopay/internal/model"
)

// ErrUnrelatedLog marks a log that does not decode as ReceiptIssued.
var ErrUnrelatedLog = errors.New("log is not a ReceiptIssued event")

// Decoder decodes ReceiptIssued logs.
type Decoder struct {
	event abi.Event
}

// NewDecoder builds a ReceiptIssued decoder.
func NewDecoder() (*Decoder, error) {
	parsed, err := PayAndReceiptABI()
	if err != nil {
		return nil, fmt.Errorf("parse payment abi: %w", err)
	}
	event, ok := parsed.Events[EventReceiptIssued]
	if !ok {
		return nil, fmt.Errorf("abi is missing %s", EventReceiptIssued)
	}
	return &Decoder{event: event}, nil
}

// Topic0 returns the event signature hash used to filter logs.
func (d *Decoder) Topic0() common.Hash {
	return d.event.ID
}

// Decode converts a raw log into a ReceiptEvent. Every failure wraps ErrUnrelatedLog.
func (d *Decoder) Decode(log types.Log) (model.ReceiptEvent, error) {
	if len(log.Topics) == 0 || log.Topics[0] != d.event.ID {
		return model.ReceiptEvent{}, ErrUnrelatedLog
	}

	indexedArgs := indexedArguments(d.event.Inputs)
	if len(log.Topics) != len(indexedArgs)+1 {
		return model.ReceiptEvent{}, fmt.Errorf("%w: expected %d topics, got %d", ErrUnrelatedLog, len(indexedArgs)+1, len(log.Topics))
	}

	var indexed struct {
		ReceiptId *big.Int
		Payer     common.Address
		Merchant  common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArgs, log.Topics[1:]); err != nil {
		return model.ReceiptEvent{}, fmt.Errorf("%w: parse topics: %v", ErrUnrelatedLog, err)
	}

	values, err := d.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.ReceiptEvent{}, fmt.Errorf("%w: unpack data: %v", ErrUnrelatedLog, err)
	}
	if len(values) != 4 {
		return model.ReceiptEvent{}, fmt.Errorf("%w: unexpected values: %d", ErrUnrelatedLog, len(values))
	}

	token, err := asAddress(values[0])
	if err != nil {
		return model.ReceiptEvent{}, fmt.Errorf("%w: token: %v", ErrUnrelatedLog, err)
	}
	amount, err := asBigInt(values[1])
	if err != nil {
		return model.ReceiptEvent{}, fmt.Errorf("%w: amount: %v", ErrUnrelatedLog, err)
	}
	code, ok := values[2].(string)
	if !ok {
		return model.ReceiptEvent{}, fmt.Errorf("%w: code has type %T", ErrUnrelatedLog, values[2])
	}
	metaURI, ok := values[3].(string)
	if !ok {
		return model.ReceiptEvent{}, fmt.Errorf("%w: metaURI has type %T", ErrUnrelatedLog, values[3])
	}
	if code == "" {
		return model.ReceiptEvent{}, fmt.Errorf("%w: empty code", ErrUnrelatedLog)
	}

	return model.ReceiptEvent{
		ReceiptID:   indexed.ReceiptId,
		Payer:       indexed.Payer,
		Merchant:    indexed.Merchant,
		Token:       token,
		Amount:      amount,
		Code:        code,
		MetaURI:     metaURI,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    uint64(log.Index),
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
