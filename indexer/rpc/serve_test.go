package rpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/rpc"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/tokens"
)

type noPrices struct{}

func (noPrices) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (noPrices) GetPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	rpc.SetLogger(zerolog.Nop())

	db := store.NewMemory()
	tokenService := tokens.NewService(tokens.NewMetadataRegistry(), noPrices{}, zerolog.Nop())
	tokenService.SetAsyncFetch(false)

	server, err := rpc.NewServer(nil, db, tokenService)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, db
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func seedTransfer(t *testing.T, db *store.Memory, packetID, txHash string, sendTime time.Time) {
	t.Helper()
	err := db.UpsertTransfer(context.Background(), &models.Transfer{
		PacketID: packetID,
		Network:  models.NetworkMainnet,
		Status:   models.TransferPending,
		Sender:   "bbn1sender",
		Receiver: "cosmos1receiver",
		Amount:   "1000000",
		Denom:    "ubbn",
		SendTime: sendTime,
		TxHash:   txHash,
	})
	if err != nil {
		t.Fatalf("seed transfer: %v", err)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t)

	if status := getJSON(t, ts.URL+"/health", nil); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if status := getJSON(t, ts.URL+"/ready", nil); status != http.StatusOK {
		t.Fatalf("ready status = %d", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	if status := getJSON(t, ts.URL+"/metrics", nil); status != http.StatusOK {
		t.Fatalf("metrics status = %d", status)
	}
}

func TestGetTransfer(t *testing.T) {
	ts, db := newTestServer(t)
	seedTransfer(t, db, "abc123abc123abc123abc123", "deadbeef", time.Now().UTC())

	var transfer models.Transfer
	status := getJSON(t, ts.URL+"/v1/transfers/abc123abc123abc123abc123", &transfer)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if transfer.PacketID != "abc123abc123abc123abc123" || transfer.Denom != "ubbn" {
		t.Fatalf("transfer = %+v", transfer)
	}
}

func TestGetTransfer_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	if status := getJSON(t, ts.URL+"/v1/transfers/missing", nil); status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestGetTransfer_UnknownNetwork(t *testing.T) {
	ts, db := newTestServer(t)
	seedTransfer(t, db, "abc123abc123abc123abc123", "deadbeef", time.Now().UTC())

	status := getJSON(t, ts.URL+"/v1/transfers/abc123abc123abc123abc123?network=devnet", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestListTransfers_ByTxHash(t *testing.T) {
	ts, db := newTestServer(t)
	seedTransfer(t, db, "aaaa0000aaaa0000aaaa0000", "cafebabe", time.Now().UTC())

	var transfer models.Transfer
	status := getJSON(t, ts.URL+"/v1/transfers?tx_hash=cafebabe", &transfer)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if transfer.PacketID != "aaaa0000aaaa0000aaaa0000" {
		t.Fatalf("transfer = %+v", transfer)
	}

	if status := getJSON(t, ts.URL+"/v1/transfers?tx_hash=unknown", nil); status != http.StatusNotFound {
		t.Fatalf("unknown hash status = %d", status)
	}
}

func TestListTransfers_Recent(t *testing.T) {
	ts, db := newTestServer(t)
	now := time.Now().UTC()
	seedTransfer(t, db, "aaaa0000aaaa0000aaaa0000", "tx1", now.Add(-2*time.Minute))
	seedTransfer(t, db, "bbbb0000bbbb0000bbbb0000", "tx2", now.Add(-1*time.Minute))
	seedTransfer(t, db, "cccc0000cccc0000cccc0000", "tx3", now)

	var payload struct {
		Transfers []models.Transfer `json:"transfers"`
	}
	status := getJSON(t, ts.URL+"/v1/transfers?limit=2", &payload)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(payload.Transfers) != 2 {
		t.Fatalf("got %d transfers", len(payload.Transfers))
	}
	// newest first
	if payload.Transfers[0].PacketID != "cccc0000cccc0000cccc0000" {
		t.Fatalf("first transfer = %+v", payload.Transfers[0])
	}

	if status := getJSON(t, ts.URL+"/v1/transfers?limit=0", nil); status != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", status)
	}
}

func TestListChannels(t *testing.T) {
	ts, db := newTestServer(t)
	err := db.UpsertChannel(context.Background(), &models.Channel{
		ChannelID: "channel-0",
		PortID:    "transfer",
		Network:   models.NetworkMainnet,
		State:     models.ChannelOpen,
	})
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	var payload struct {
		Channels []models.Channel `json:"channels"`
	}
	status := getJSON(t, ts.URL+"/v1/channels", &payload)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(payload.Channels) != 1 || payload.Channels[0].ChannelID != "channel-0" {
		t.Fatalf("channels = %+v", payload.Channels)
	}
}

func TestRelayers(t *testing.T) {
	ts, db := newTestServer(t)
	err := db.UpsertRelayer(context.Background(), &models.Relayer{
		Address:           "bbn1relayer",
		Network:           models.NetworkMainnet,
		TotalPackets:      10,
		SuccessfulPackets: 9,
	})
	if err != nil {
		t.Fatalf("seed relayer: %v", err)
	}

	var payload struct {
		Relayers []models.Relayer `json:"relayers"`
	}
	if status := getJSON(t, ts.URL+"/v1/relayers", &payload); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(payload.Relayers) != 1 {
		t.Fatalf("relayers = %+v", payload.Relayers)
	}

	var relayer models.Relayer
	if status := getJSON(t, ts.URL+"/v1/relayers/bbn1relayer", &relayer); status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if relayer.TotalPackets != 10 {
		t.Fatalf("relayer = %+v", relayer)
	}

	if status := getJSON(t, ts.URL+"/v1/relayers/unknown", nil); status != http.StatusNotFound {
		t.Fatalf("unknown relayer status = %d", status)
	}
}

func TestGetToken(t *testing.T) {
	ts, _ := newTestServer(t)

	var token models.Token
	status := getJSON(t, ts.URL+"/v1/tokens/ubbn", &token)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if token.Metadata.Symbol != "BABY" {
		t.Fatalf("token = %+v", token)
	}

	// ibc denoms carry a slash and must still route
	status = getJSON(t, ts.URL+"/v1/tokens/ibc/27394FB092D2ECCD56123C74F36E4C1F926001CEADA9CA97EA622B25F41E5EB2", &token)
	if status != http.StatusOK {
		t.Fatalf("ibc denom status = %d", status)
	}
}
