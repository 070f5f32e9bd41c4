package tokens

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

// ExtractTokenSymbol derives a display symbol from a raw denom without
// consulting the metadata registry. Hashed IBC denoms cannot be resolved
// locally and collapse to "IBC".
func ExtractTokenSymbol(denom string) string {
	switch {
	case denom == "ubbn":
		return "BABY"
	case strings.HasPrefix(denom, "ibc/"):
		return "IBC"
	case strings.Contains(denom, "/"):
		base := denom[strings.LastIndex(denom, "/")+1:]
		if len(base) > 1 && (base[0] == 'u' || base[0] == 'a') {
			base = base[1:]
		}
		return strings.ToUpper(base)
	default:
		return strings.ToUpper(denom)
	}
}

// DecimalsForSymbol returns the decimal scale used for display formatting.
// Most Cosmos tokens use 6; BTC variants use 8 and ETH variants 18.
func DecimalsForSymbol(symbol string) int {
	switch strings.ToUpper(symbol) {
	case "BTC", "WBTC":
		return 8
	case "ETH", "WETH":
		return 18
	default:
		return 6
	}
}

// FormatTokenAmount scales a base-unit amount by the symbol's decimals using
// big-integer arithmetic and trims trailing fractional zeros. The output
// parses back exactly: value * 10^decimals == input. Unparseable input is
// returned unchanged.
func FormatTokenAmount(amount, symbol string) string {
	return formatScaled(amount, DecimalsForSymbol(symbol))
}

// formatScaled renders amount / 10^decimals without floating point.
func formatScaled(amount string, decimals int) string {
	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return amount
	}
	if decimals <= 0 {
		return value.String()
	}

	negative := value.Sign() < 0
	if negative {
		value = new(big.Int).Neg(value)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(value, scale, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := fmt.Sprintf("%0*s", decimals, frac.String())
		digits = strings.TrimRight(digits, "0")
		out = out + "." + digits
	}
	if negative && out != "0" {
		out = "-" + out
	}
	return out
}

// ParseTransferData normalizes a fungible token packet payload. It accepts a
// JSON string, raw bytes, or an already-decoded map.
func ParseTransferData(raw any) (*models.TransferPacketData, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("transfer data is nil")
	case string:
		return parseTransferJSON([]byte(v))
	case []byte:
		return parseTransferJSON(v)
	case json.RawMessage:
		return parseTransferJSON(v)
	case map[string]any:
		data := &models.TransferPacketData{}
		data.Sender, _ = v["sender"].(string)
		data.Receiver, _ = v["receiver"].(string)
		data.Denom, _ = v["denom"].(string)
		data.Memo, _ = v["memo"].(string)
		switch amount := v["amount"].(type) {
		case string:
			data.Amount = amount
		case float64:
			data.Amount = fmt.Sprintf("%.0f", amount)
		}
		return data, nil
	case models.TransferPacketData:
		return &v, nil
	case *models.TransferPacketData:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported transfer data type %T", raw)
	}
}

func parseTransferJSON(body []byte) (*models.TransferPacketData, error) {
	var data models.TransferPacketData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse transfer data: %w", err)
	}
	return &data, nil
}
