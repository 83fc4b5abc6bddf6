package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SessionKeyLength is the number of session key bytes kept for an acquirer.
const SessionKeyLength = 32

var (
	ErrTerminalRowNotFound = errors.New("terminal table row not found")
	ErrInvalidTerminalRow  = errors.New("invalid terminal table row")
)

// ApplicationEntry maps a card brand and payment method to the acquirer record
// that handles it.
type ApplicationEntry struct {
	PaymentMethod  int    `json:"payment_method"`
	CardBrand      string `json:"card_brand"`
	AcquirerNumber int    `json:"acquirer_number"`
	RecordNumber   int    `json:"record_number"`
}

// AcquirerEntry describes an acquirer's cryptography parameters.
type AcquirerEntry struct {
	Number             int    `json:"number"`
	CryptographyMethod int    `json:"cryptography_method"`
	KeyIndex           int    `json:"key_index"`
	SessionKey         string `json:"session_key"`
	EmvTags            string `json:"emv_tags"`
}

// AcquirerRow is an acquirer as the gateway sends it: the raw session key
// (base64 in JSON) and the EMV tag list with the number of tags in use.
type AcquirerRow struct {
	Number             int    `json:"number"`
	CryptographyMethod int    `json:"cryptography_method"`
	KeyIndex           int    `json:"key_index"`
	SessionKey         []byte `json:"session_key"`
	EmvTagsLength      int    `json:"emv_tags_length"`
	EmvTags            []int  `json:"emv_tags"`
}

// Entry converts the row with NewAcquirerEntry.
func (r AcquirerRow) Entry() (AcquirerEntry, error) {
	return NewAcquirerEntry(r.Number, r.CryptographyMethod, r.KeyIndex, r.SessionKey, r.EmvTagsLength, r.EmvTags)
}

// RiskManagementEntry holds offline risk management limits for an acquirer record.
type RiskManagementEntry struct {
	AcquirerNumber                     int  `json:"acquirer_number"`
	RecordNumber                       int  `json:"record_number"`
	MustRiskManagement                 bool `json:"must_risk_management"`
	FloorLimit                         int  `json:"floor_limit"`
	BiasedRandomSelectionPercentage    int  `json:"biased_random_selection_percentage"`
	BiasedRandomSelectionThreshold     int  `json:"biased_random_selection_threshold"`
	BiasedRandomSelectionMaxPercentage int  `json:"biased_random_selection_max_percentage"`
}

// TerminalTables is a complete download of the three terminal tables.
type TerminalTables struct {
	Acquirers      []AcquirerEntry
	RiskManagement []RiskManagementEntry
	Applications   []ApplicationEntry
}

// Len returns the number of rows across all tables.
func (t TerminalTables) Len() int {
	return len(t.Acquirers) + len(t.RiskManagement) + len(t.Applications)
}

// Validate checks every row, returning ErrInvalidTerminalRow for the first bad one.
func (t TerminalTables) Validate() error {
	for _, a := range t.Acquirers {
		if len(a.SessionKey) != SessionKeyLength {
			return fmt.Errorf("%w: acquirer %d session key has %d characters, need %d", ErrInvalidTerminalRow, a.Number, len(a.SessionKey), SessionKeyLength)
		}
	}
	for _, a := range t.Applications {
		if a.CardBrand == "" {
			return fmt.Errorf("%w: application record %d has no card brand", ErrInvalidTerminalRow, a.RecordNumber)
		}
	}
	return nil
}

// TerminalStore holds the terminal management tables downloaded for a device.
type TerminalStore interface {
	// Purge removes every row from all three tables.
	Purge(ctx context.Context) error

	StoreAcquirer(ctx context.Context, entry AcquirerEntry) error
	StoreRiskManagement(ctx context.Context, entry RiskManagementEntry) error
	StoreApplication(ctx context.Context, entry ApplicationEntry) error

	// Replace validates tables and swaps them in for all stored rows. On any
	// error the previous rows are left in place.
	Replace(ctx context.Context, tables TerminalTables) error

	// Acquirers returns all acquirer rows in insertion order.
	Acquirers(ctx context.Context) ([]AcquirerEntry, error)

	// RiskManagement returns all risk management rows in insertion order.
	RiskManagement(ctx context.Context) ([]RiskManagementEntry, error)

	// SelectApplication returns the first application row for brand and
	// paymentMethod, or ErrTerminalRowNotFound.
	SelectApplication(ctx context.Context, brand string, paymentMethod int) (*ApplicationEntry, error)
}

// NewAcquirerEntry builds an acquirer row from raw device fields. The session
// key is the first SessionKeyLength bytes read as ASCII, with bytes outside
// the ASCII range replaced by '?', and the EMV tags are the first
// emvTagsLength tags joined with commas.
func NewAcquirerEntry(number, cryptographyMethod, keyIndex int, sessionKey []byte, emvTagsLength int, emvTags []int) (AcquirerEntry, error) {
	if len(sessionKey) < SessionKeyLength {
		return AcquirerEntry{}, fmt.Errorf("%w: session key has %d bytes, need %d", ErrInvalidTerminalRow, len(sessionKey), SessionKeyLength)
	}
	if emvTagsLength < 0 || emvTagsLength > len(emvTags) {
		return AcquirerEntry{}, fmt.Errorf("%w: emv tag length %d out of range [0,%d]", ErrInvalidTerminalRow, emvTagsLength, len(emvTags))
	}

	tags := make([]string, emvTagsLength)
	for i, tag := range emvTags[:emvTagsLength] {
		tags[i] = strconv.Itoa(tag)
	}

	return AcquirerEntry{
		Number:             number,
		CryptographyMethod: cryptographyMethod,
		KeyIndex:           keyIndex,
		SessionKey:         asciiString(sessionKey[:SessionKeyLength]),
		EmvTags:            strings.Join(tags, ","),
	}, nil
}

func asciiString(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c > unicode.MaxASCII {
			c = '?'
		}
		out[i] = c
	}
	return string(out)
}
