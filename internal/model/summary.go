package model

import "github.com/shopspring/decimal"

// MerchantSummary is the aggregate view served for a merchant wallet.
type MerchantSummary struct {
	TxCount  int64           `json:"txCount"`
	TotalUSD decimal.Decimal `json:"totalUSD"`
	Last7d   []DailyUSD      `json:"last7d"`
}

// DailyUSD is the USD total for one UTC day (YYYY-MM-DD).
type DailyUSD struct {
	Date string          `json:"date"`
	USD  decimal.Decimal `json:"usd"`
}

// ReceiptPage is a page of receipts for a merchant, newest first.
type ReceiptPage struct {
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int64     `json:"total"`
	Pages    int64     `json:"pages"`
	Items    []Receipt `json:"items"`
}
