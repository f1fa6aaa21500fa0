// Package bolt11 decodes the payment amount from BOLT-11 lightning
// invoices. Only the human-readable part is parsed; signature and tagged
// fields are not needed to read the amount.
package bolt11

import "strings"

const (
	msatsPerBTC = 100_000_000_000
	maxInt64    = 1<<63 - 1
)

// BOLT-11 amount multipliers, expressed as msats per unit.
// p (pico) is 0.1 msat per unit, handled separately.
var multiplierMsats = map[byte]int64{
	'm': msatsPerBTC / 1_000,         // milli-bitcoin
	'u': msatsPerBTC / 1_000_000,     // micro-bitcoin
	'n': msatsPerBTC / 1_000_000_000, // nano-bitcoin
}

// DecodeAmount returns the invoice amount in millisatoshis. The second
// return is false when the invoice is malformed or carries no amount
// ("unknown"); callers must treat that as a normal result, not an error.
func DecodeAmount(invoice string) (int64, bool) {
	hrp, ok := humanReadablePart(invoice)
	if !ok {
		return 0, false
	}

	// Strip the network prefix: lnbcrt (regtest) before lnbc (mainnet),
	// then lntbs/lntb (signet/testnet).
	var rest string
	for _, prefix := range []string{"lnbcrt", "lnbc", "lntbs", "lntb"} {
		if strings.HasPrefix(hrp, prefix) {
			rest = hrp[len(prefix):]
			break
		}
		if prefix == "lntb" {
			return 0, false
		}
	}

	if rest == "" {
		// Amountless invoice.
		return 0, false
	}

	multiplier := rest[len(rest)-1]
	digits := rest
	if multiplier == 'm' || multiplier == 'u' || multiplier == 'n' || multiplier == 'p' {
		digits = rest[:len(rest)-1]
	} else {
		multiplier = 0
	}

	if digits == "" || len(digits) > 18 {
		return 0, false
	}
	var amount int64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		amount = amount*10 + int64(c-'0')
	}

	switch multiplier {
	case 0:
		if amount > maxInt64/msatsPerBTC {
			return 0, false
		}
		return amount * msatsPerBTC, true
	case 'p':
		// Pico-bitcoin is 0.1 msat per unit; fractional msats are invalid.
		if amount%10 != 0 {
			return 0, false
		}
		return amount / 10, true
	default:
		mult := multiplierMsats[multiplier]
		if amount > maxInt64/mult {
			return 0, false
		}
		return amount * mult, true
	}
}

// humanReadablePart splits off the part before the last '1' separator.
func humanReadablePart(invoice string) (string, bool) {
	invoice = strings.ToLower(strings.TrimSpace(invoice))
	if !strings.HasPrefix(invoice, "ln") {
		return "", false
	}
	pos := strings.LastIndex(invoice, "1")
	if pos < 1 {
		return "", false
	}
	return invoice[:pos], true
}
