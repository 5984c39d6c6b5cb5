package pipeline

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// transformModelOutputToReceipt converts raw model output into a Receipt.
func transformModelOutputToReceipt(raw map[string]any) (*Receipt, error) {
	if raw == nil {
		return nil, fmt.Errorf("transformModelOutputToReceipt: empty model output")
	}

	amount, err := getAmountField(raw, "amount")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutputToReceipt: %w", err)
	}
	reference, err := getStringField(raw, "reference", true)
	if err != nil {
		return nil, fmt.Errorf("transformModelOutputToReceipt: %w", err)
	}
	currency, err := getOptionalStringField(raw, "currency")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutputToReceipt: %w", err)
	}
	bank, err := getOptionalStringField(raw, "bank")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutputToReceipt: %w", err)
	}
	paidOnStr, err := getOptionalStringField(raw, "paid_on")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutputToReceipt: %w", err)
	}

	r := &Receipt{
		Amount:    amount,
		Currency:  DefaultCurrency,
		Reference: strings.TrimSpace(reference),
	}
	if currency != nil {
		r.Currency = normalizeCurrency(*currency)
	}
	if bank != nil {
		r.Bank = *bank
	}
	if paidOnStr != nil {
		d, err := civil.ParseDate(*paidOnStr)
		if err != nil {
			return nil, fmt.Errorf("transformModelOutputToReceipt: invalid paid_on %q: %w", *paidOnStr, err)
		}
		r.PaidOn = &d
	}
	return r, nil
}

// normalizeCurrency maps the local spellings of the rupee to PKR.
func normalizeCurrency(s string) string {
	c := strings.ToUpper(strings.TrimSpace(s))
	switch c {
	case "RS", "RS.", "RUPEES", "₨":
		return "PKR"
	}
	return c
}

// parseAmount reads printed amounts such as "Rs. 8,000" or "PKR 8,000.50".
func parseAmount(s string) (decimal.Decimal, error) {
	t := strings.TrimSpace(s)
	upper := strings.ToUpper(t)
	for _, prefix := range []string{"PKR", "RS.", "RS", "₨"} {
		if strings.HasPrefix(upper, prefix) {
			t = t[len(prefix):]
			break
		}
	}
	t = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "/-"))
	t = strings.ReplaceAll(t, ",", "")
	t = strings.ReplaceAll(t, " ", "")
	if t == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", s)
	}
	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

func getAmountField(m map[string]any, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case string:
		d, err := parseAmount(val)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number or string", key, v)
	}
}

func getStringField(m map[string]any, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	case float64:
		// Reference numbers sometimes come back as bare numbers.
		return decimal.NewFromFloat(val).String(), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]any, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}
