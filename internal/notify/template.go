package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"echopay/internal/enrich"
	"echopay/internal/model"
)

var receiptTemplate = template.Must(template.New("receipt").Parse(`<h2>Payment Receipt</h2>
<p><b>Code:</b> {{.Code}}</p>
<p><b>Amount:</b> {{.Amount}}</p>
{{- if .USD}}
<p><b>USD (at tx):</b> ~${{.USD}}</p>
{{- end}}
<p><b>Payer:</b> {{.Payer}}</p>
<p><b>Merchant:</b> {{.Merchant}}</p>
<p><a href="{{.VerifyURL}}">View Receipt</a> | <a href="{{.ExplorerURL}}">View on Explorer</a></p>
{{- if .QR}}
<img alt="QR" src="{{.QR}}" />
{{- end}}
`))

type receiptView struct {
	Code        string
	Amount      string
	USD         string
	Payer       string
	Merchant    string
	VerifyURL   string
	ExplorerURL string
	QR          template.URL
}

// Links builds public URLs for a receipt.
type Links struct {
	PublicBase string
	Explorer   string
}

// VerifyURL is the public verification page for code. code is escaped as a
// single path segment.
func (l Links) VerifyURL(code string) string {
	return strings.TrimRight(l.PublicBase, "/") + "/verify/" + url.PathEscape(code)
}

// ExplorerTxURL links a transaction on the block explorer, or "#" when unknown.
func (l Links) ExplorerTxURL(txHash string) string {
	if txHash == "" || l.Explorer == "" {
		return "#"
	}
	return strings.TrimRight(l.Explorer, "/") + "/tx/" + txHash
}

// Subject returns the email subject for r.
func Subject(r model.Receipt) string {
	return "Your blockchain receipt " + r.Code
}

// RenderReceipt renders the HTML body for r. qrDataURL may be empty.
func RenderReceipt(r model.Receipt, links Links, qrDataURL string) (string, error) {
	view := receiptView{
		Code:        r.Code,
		Amount:      enrich.FormatAmount(r.Amount, r.TokenDecimals, r.TokenSymbol),
		Payer:       r.Payer,
		Merchant:    r.Merchant,
		VerifyURL:   links.VerifyURL(r.Code),
		ExplorerURL: links.ExplorerTxURL(r.TxHash),
		QR:          template.URL(qrDataURL),
	}
	if r.UsdAtTx != nil {
		view.USD = r.UsdAtTx.StringFixed(2)
	}

	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render receipt email: %w", err)
	}
	return buf.String(), nil
}
