package tokens_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/tokens"
)

func TestParseBaseDenom(t *testing.T) {
	cases := map[string]string{
		"ubbn":                     "ubbn",
		"transfer/channel-0/uatom": "uatom",
		"transfer/channel-0/transfer/channel-12/uosmo": "uosmo",
		"ibc/498A0751C798A0D9A389AA3691123DADA57DAA4FE165D5C75894505B876BA6E4": "498A0751C798A0D9A389AA3691123DADA57DAA4FE165D5C75894505B876BA6E4",
		"wbtc": "wbtc",
	}
	for in, want := range cases {
		assert.Equal(t, want, tokens.ParseBaseDenom(in))
	}
}

func TestParseBaseDenom_Idempotent(t *testing.T) {
	inputs := []string{
		"ubbn", "transfer/channel-0/uatom", "ibc/ABCDEF", "factory/bbn1xyz/mytoken", "",
	}
	for _, in := range inputs {
		once := tokens.ParseBaseDenom(in)
		assert.Equal(t, once, tokens.ParseBaseDenom(once))
	}
}

func TestLookup_SeededTokens(t *testing.T) {
	r := tokens.NewMetadataRegistry()

	baby := r.Lookup("ubbn")
	assert.Equal(t, "BABY", baby.Symbol)
	assert.Equal(t, 6, baby.Decimals)
	assert.Equal(t, "babylon", baby.CoingeckoID)

	usdc := r.Lookup("transfer/channel-1/uusdc")
	assert.Equal(t, "USDC", usdc.Symbol)
	assert.True(t, usdc.IsStable)
	assert.Equal(t, "transfer/channel-1/uusdc", usdc.OriginalDenom)

	wbtc := r.Lookup("wbtc")
	assert.Equal(t, 8, wbtc.Decimals)
}

func TestLookup_SynthesizedDefaults(t *testing.T) {
	r := tokens.NewMetadataRegistry()

	// u-prefixed unknown: remainder upper-cased, 6 decimals
	meta := r.Lookup("ufoo")
	assert.Equal(t, "FOO", meta.Symbol)
	assert.Equal(t, 6, meta.Decimals)
	assert.Equal(t, "Unknown token: FOO", meta.Description)

	// btc-ish unknown defaults to 8 decimals
	meta = r.Lookup("somebtcvoucher")
	assert.Equal(t, 8, meta.Decimals)

	// bare "u" is not a prefix token
	meta = r.Lookup("u")
	assert.Equal(t, "U", meta.Symbol)
}

func TestRegisterMapping_Overrides(t *testing.T) {
	r := tokens.NewMetadataRegistry()

	meta := r.Lookup("ufoo")
	assert.Equal(t, "FOO", meta.Symbol)

	custom := meta
	custom.Symbol = "FOOX"
	custom.Decimals = 12
	custom.BaseDenom = "ufoo"
	r.RegisterMapping(custom)

	got := r.Lookup("ufoo")
	assert.Equal(t, "FOOX", got.Symbol)
	assert.Equal(t, 12, got.Decimals)
	assert.True(t, r.Known("ufoo"))
}

func TestLoadMappingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.toml")
	content := `
[[tokens]]
base_denom = "umyto"
symbol = "MYTO"
decimals = 9
coingecko_id = "mytoken"

[[tokens]]
base_denom = "uother"
symbol = "OTHER"

[[tokens]]
symbol = "NOBASE"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing mapping file: %v", err)
	}

	r := tokens.NewMetadataRegistry()
	applied, err := r.LoadMappingFile(path)
	if err != nil {
		t.Fatalf("LoadMappingFile: %v", err)
	}
	assert.Equal(t, 2, applied)

	myto := r.Lookup("umyto")
	assert.Equal(t, "MYTO", myto.Symbol)
	assert.Equal(t, 9, myto.Decimals)

	// decimals default to 6 when omitted
	other := r.Lookup("uother")
	assert.Equal(t, 6, other.Decimals)
}

func TestStableCoingeckoIDs(t *testing.T) {
	r := tokens.NewMetadataRegistry()
	ids := r.StableCoingeckoIDs()
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	assert.True(t, found["usd-coin"])
	assert.True(t, found["tether"])
}
