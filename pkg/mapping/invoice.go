package mapping

import (
	"fmt"
	"math/big"
)

const (
	invoiceSourceType = "openai.tooluse.invoice.v1"
	invoiceTargetType = "invoice.iso20022.v1"

	// minorUnitScale is the ×100 multiplier applied to 2-decimal currencies,
	// per the required invoice mapping (spec §4.6).
	minorUnitScale = 100
)

var invoiceInputSchema = []byte(`{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["invoice_id", "amount", "currency"],
	"properties": {
		"invoice_id": {"type": "string", "minLength": 1},
		"amount": {"type": "number"},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3}
	},
	"additionalProperties": true
}`)

var invoiceOutputSchema = []byte(`{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["invoice_id", "amount_minor", "currency"],
	"properties": {
		"invoice_id": {"type": "string", "minLength": 1},
		"amount_minor": {"type": "integer"},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3}
	},
	"additionalProperties": false
}`)

// invoiceMapping is the single mapping required by the spec: it reads
// integer/decimal amount and currency from the input and produces
// amount_minor as an integer minor-unit value, preserving invoice_id
// verbatim. The transform is pure, deterministic, and total on
// schema-valid input.
func invoiceMapping() Mapping {
	return Mapping{
		SourceType:       invoiceSourceType,
		TargetType:       invoiceTargetType,
		Transform:        transformInvoice,
		InputSchemaJSON:  invoiceInputSchema,
		OutputSchemaJSON: invoiceOutputSchema,
	}
}

func transformInvoice(input map[string]interface{}) (map[string]interface{}, error) {
	invoiceID, ok := input["invoice_id"].(string)
	if !ok || invoiceID == "" {
		return nil, fmt.Errorf("mapping: invoice_id must be a non-empty string")
	}
	currency, ok := input["currency"].(string)
	if !ok || len(currency) != 3 {
		return nil, fmt.Errorf("mapping: currency must be a 3-letter code")
	}

	amountMinor, err := toMinorUnits(input["amount"])
	if err != nil {
		return nil, fmt.Errorf("mapping: amount: %w", err)
	}

	return map[string]interface{}{
		"invoice_id":   invoiceID,
		"amount_minor": amountMinor,
		"currency":     currency,
	}, nil
}

// toMinorUnits converts a decimal or integer amount to an integer number
// of minor units (value × 100), using exact rational arithmetic so that
// decimal inputs like 10.5 never pick up floating-point error.
func toMinorUnits(amount interface{}) (int64, error) {
	var r *big.Rat
	switch v := amount.(type) {
	case float64:
		r = new(big.Rat).SetFloat64(v)
		if r == nil {
			return 0, fmt.Errorf("amount is not a finite number")
		}
	case int:
		r = new(big.Rat).SetInt64(int64(v))
	case int64:
		r = new(big.Rat).SetInt64(v)
	case string:
		var ok bool
		r, ok = new(big.Rat).SetString(v)
		if !ok {
			return 0, fmt.Errorf("amount %q is not numeric", v)
		}
	default:
		return 0, fmt.Errorf("amount must be a number, got %T", amount)
	}

	scaled := new(big.Rat).Mul(r, big.NewRat(minorUnitScale, 1))
	if !scaled.IsInt() {
		return 0, fmt.Errorf("amount has more precision than the currency's minor unit allows")
	}
	return scaled.Num().Int64(), nil
}
