// Package pix builds static PIX payment codes in the BR Code (EMV QRCPS
// merchant-presented) format.
package pix

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// EMV field ids used by a static PIX code
const (
	idPayloadFormat   = "00"
	idMerchantAccount = "26"
	idMerchantGUI     = "00"
	idMerchantKey     = "01"
	idMerchantInfo    = "02"
	idCategoryCode    = "52"
	idCurrency        = "53"
	idAmount          = "54"
	idCountry         = "58"
	idMerchantName    = "59"
	idMerchantCity    = "60"
	idPostalCode      = "61"
	idAdditionalData  = "62"
	idTxID            = "05"
	idCRC             = "63"

	gui          = "br.gov.bcb.pix"
	currencyBRL  = "986"
	defaultTxID  = "***"
	maxNameLen   = 25
	maxCityLen   = 15
	maxTxIDLen   = 25
	maxFieldSize = 99
)

var (
	ErrMissingKey  = errors.New("pix key is required")
	ErrFieldLength = errors.New("pix field too long")
)

// Merchant identifies who receives the payment
type Merchant struct {
	Key        string
	Name       string
	City       string
	PostalCode string
}

// Charge is one payment code request
type Charge struct {
	Amount      decimal.Decimal
	TxID        string
	Description string
}

// Payload renders the copy-and-paste PIX string for charge. A zero amount
// leaves the value to the payer.
func Payload(m Merchant, c Charge) (string, error) {
	if strings.TrimSpace(m.Key) == "" {
		return "", ErrMissingKey
	}

	account := field(idMerchantGUI, gui) + field(idMerchantKey, strings.TrimSpace(m.Key))
	if c.Description != "" {
		account += field(idMerchantInfo, sanitize(c.Description, 40))
	}
	if len(account) > maxFieldSize {
		return "", fmt.Errorf("%w: merchant account info", ErrFieldLength)
	}

	txid := sanitizeTxID(c.TxID)

	var b strings.Builder
	b.WriteString(field(idPayloadFormat, "01"))
	b.WriteString(field(idMerchantAccount, account))
	b.WriteString(field(idCategoryCode, "0000"))
	b.WriteString(field(idCurrency, currencyBRL))
	if c.Amount.IsPositive() {
		b.WriteString(field(idAmount, c.Amount.StringFixed(2)))
	}
	b.WriteString(field(idCountry, "BR"))
	b.WriteString(field(idMerchantName, sanitize(m.Name, maxNameLen)))
	b.WriteString(field(idMerchantCity, sanitize(m.City, maxCityLen)))
	if pc := digits(m.PostalCode); pc != "" {
		b.WriteString(field(idPostalCode, pc))
	}
	b.WriteString(field(idAdditionalData, field(idTxID, txid)))
	b.WriteString(idCRC + "04")

	payload := b.String()
	return payload + fmt.Sprintf("%04X", CRC16(payload)), nil
}

func field(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// sanitize strips accents and keeps the printable ASCII subset accepted by
// banking apps
func sanitize(s string, max int) string {
	decomposed := norm.NFD.String(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r < 0x20 || r > 0x7E {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.ToUpper(b.String())
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func sanitizeTxID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return defaultTxID
	}
	if len(out) > maxTxIDLen {
		out = out[:maxTxIDLen]
	}
	return out
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CRC16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF) as required for
// field 63.
func CRC16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
