package indexer

import (
	"strings"
	"time"

	"echopay/internal/enrich"
	"echopay/internal/model"
)

func buildReceipt(chainID uint64, event model.ReceiptEvent, res enrich.Resolution, ingestedAt time.Time) model.Receipt {
	receipt := model.Receipt{
		ChainID:       chainID,
		Payer:         strings.ToLower(event.Payer.Hex()),
		Merchant:      strings.ToLower(event.Merchant.Hex()),
		Token:         strings.ToLower(event.Token.Hex()),
		Amount:        "0",
		Code:          event.Code,
		MetaURI:       event.MetaURI,
		TxHash:        strings.ToLower(event.TxHash.Hex()),
		BlockNumber:   event.BlockNumber,
		LogIndex:      event.LogIndex,
		TokenSymbol:   res.Symbol,
		TokenDecimals: res.Decimals,
		UsdAtTx:       res.USD,
		CreatedAt:     ingestedAt.UTC(),
	}
	if event.ReceiptID != nil {
		receipt.ReceiptID = event.ReceiptID.String()
	}
	if event.Amount != nil {
		receipt.Amount = event.Amount.String()
	}
	return receipt
}
