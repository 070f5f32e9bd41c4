package processor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/chains"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/packets"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/processor"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/resolver"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/tokens"
)

// valid bech32 so relayer attribution is exercised (BIP-173 test vector)
const relayerAddr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

var (
	t0 = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 8, 24, 10, 0, 30, 0, time.UTC)
)

type noPrices struct{}

func (noPrices) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (noPrices) GetPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}

func newProcessor(s store.Store) *processor.Processor {
	registry := chains.NewRegistry()
	res := resolver.New(s, registry, zerolog.Nop())
	tokenSvc := tokens.NewService(tokens.NewMetadataRegistry(), noPrices{}, zerolog.Nop())
	tokenSvc.SetAsyncFetch(false)
	return processor.New(s, res, tokenSvc, prometheus.NewRegistry(), zerolog.Nop())
}

func packetAttrs(extra ...models.Attribute) []models.Attribute {
	base := []models.Attribute{
		{Key: "packet_sequence", Value: "7"},
		{Key: "packet_src_port", Value: "transfer"},
		{Key: "packet_src_channel", Value: "channel-0"},
		{Key: "packet_dst_port", Value: "transfer"},
		{Key: "packet_dst_channel", Value: "channel-12"},
	}
	return append(base, extra...)
}

func sendEvent() models.Event {
	return models.Event{
		Type: models.EventSendPacket,
		Attributes: packetAttrs(models.Attribute{
			Key:   "packet_data",
			Value: `{"sender":"bbn1a","receiver":"cosmos1b","denom":"ubbn","amount":"1000000"}`,
		}),
	}
}

func evCtx(txHash string, height int64, ts time.Time) models.EventContext {
	return models.EventContext{TxHash: txHash, Height: height, BlockTime: ts, Network: models.NetworkMainnet}
}

func packetID() string {
	return packets.CreatePacketID("transfer", "channel-0", 7)
}

func TestSendThenAckOK(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}

	ack := models.Event{
		Type: models.EventAcknowledgePacket,
		Attributes: packetAttrs(
			models.Attribute{Key: "packet_ack", Value: `{"result":"AQ=="}`},
			models.Attribute{Key: "signer", Value: relayerAddr},
		),
	}
	if err := p.ProcessEvent(ctx, ack, evCtx("TX_ACK", 110, t1)); err != nil {
		t.Fatalf("ack: %v", err)
	}

	transfer, err := s.GetTransfer(ctx, packetID(), models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if transfer.Status != models.TransferCompleted || !transfer.Success {
		t.Fatalf("transfer = %s success=%v", transfer.Status, transfer.Success)
	}
	if transfer.Sender != "bbn1a" || transfer.Receiver != "cosmos1b" {
		t.Fatalf("parties = %s -> %s", transfer.Sender, transfer.Receiver)
	}
	if transfer.Denom != "ubbn" || transfer.Amount != "1000000" {
		t.Fatalf("token = %s %s", transfer.Amount, transfer.Denom)
	}
	if transfer.TokenSymbol != "BABY" || transfer.TokenDisplayAmount != "1" {
		t.Fatalf("display = %s %s", transfer.TokenDisplayAmount, transfer.TokenSymbol)
	}
	if !transfer.SendTime.Equal(t0) {
		t.Fatalf("send_time = %v", transfer.SendTime)
	}
	if transfer.CompletionTimestamp == nil || !transfer.CompletionTimestamp.Equal(t1) {
		t.Fatalf("completion_timestamp = %v", transfer.CompletionTimestamp)
	}
	if transfer.SourceChainID != "bbn-1" || transfer.SourceChainName != "Babylon Genesis" {
		t.Fatalf("source chain = %s/%s", transfer.SourceChainID, transfer.SourceChainName)
	}
	// no seeded handshake: counterparty falls back
	if transfer.DestinationChainID != resolver.FallbackChainID {
		t.Fatalf("destination chain = %s", transfer.DestinationChainID)
	}

	packet, err := s.GetPacket(ctx, models.PacketKey{
		Sequence: 7, SourcePort: "transfer", SourceChannel: "channel-0",
		DestinationPort: "transfer", DestinationChannel: "channel-12",
		Network: models.NetworkMainnet,
	})
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if packet.Status != models.PacketAcknowledged {
		t.Fatalf("packet status = %s", packet.Status)
	}
	if packet.RelayerAddress != relayerAddr {
		t.Fatalf("relayer = %s", packet.RelayerAddress)
	}
	if packet.CompletionTimeMs == nil || *packet.CompletionTimeMs != 30000 {
		t.Fatalf("completion ms = %v", packet.CompletionTimeMs)
	}
}

func TestAckWithError(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	ack := models.Event{
		Type: models.EventAcknowledgePacket,
		Attributes: packetAttrs(
			models.Attribute{Key: "packet_ack_error", Value: "insufficient funds"},
		),
	}
	if err := p.ProcessEvent(ctx, ack, evCtx("TX_ACK", 110, t1)); err != nil {
		t.Fatalf("ack: %v", err)
	}

	transfer, err := s.GetTransfer(ctx, packetID(), models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if transfer.Status != models.TransferFailed || transfer.Success {
		t.Fatalf("transfer = %s success=%v", transfer.Status, transfer.Success)
	}
	if transfer.Error != "insufficient funds" {
		t.Fatalf("error = %q", transfer.Error)
	}
}

func TestTimeout(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	timeout := models.Event{Type: models.EventTimeoutPacket, Attributes: packetAttrs()}
	if err := p.ProcessEvent(ctx, timeout, evCtx("TX_TIMEOUT", 120, t1)); err != nil {
		t.Fatalf("timeout: %v", err)
	}

	transfer, err := s.GetTransfer(ctx, packetID(), models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if transfer.Status != models.TransferTimeout || transfer.Success {
		t.Fatalf("transfer = %s success=%v", transfer.Status, transfer.Success)
	}
	if transfer.Error != "Packet timed out" {
		t.Fatalf("error = %q", transfer.Error)
	}
	if transfer.TimeoutTxHash != "TX_TIMEOUT" || transfer.TimeoutHeight != 120 {
		t.Fatalf("timeout fields = %s @ %d", transfer.TimeoutTxHash, transfer.TimeoutHeight)
	}
}

func TestFungibleEnrichmentSameTx(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_X", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	fungible := models.Event{
		Type: models.EventFungibleTokenPacket,
		Attributes: []models.Attribute{
			{Key: "success", Value: "true"},
			{Key: "denom", Value: "ubbn"},
			{Key: "amount", Value: "500"},
		},
	}
	if err := p.ProcessEvent(ctx, fungible, evCtx("TX_X", 100, t0)); err != nil {
		t.Fatalf("fungible: %v", err)
	}

	transfer, err := s.GetTransfer(ctx, packetID(), models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if !transfer.Success {
		t.Fatalf("fungible success not applied")
	}
	if transfer.Amount != "500" {
		t.Fatalf("amount overlay = %s", transfer.Amount)
	}
	if transfer.Status != models.TransferCompleted {
		t.Fatalf("status = %s", transfer.Status)
	}

	list, err := s.ListRecentTransfers(ctx, models.NetworkMainnet, 10)
	if err != nil {
		t.Fatalf("ListRecentTransfers: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one transfer, got %d", len(list))
	}
}

func TestFungibleWithoutPriorTransfer(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	fungible := models.Event{
		Type: models.EventFungibleTokenPacket,
		Attributes: []models.Attribute{
			{Key: "success", Value: "true"},
			{Key: "denom", Value: "ubbn"},
			{Key: "amount", Value: "500"},
		},
	}
	if err := p.ProcessEvent(ctx, fungible, evCtx("TX_Y", 100, t0)); err != nil {
		t.Fatalf("standalone fungible must not error: %v", err)
	}

	list, err := s.ListRecentTransfers(ctx, models.NetworkMainnet, 10)
	if err != nil {
		t.Fatalf("ListRecentTransfers: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("standalone fungible must not create a transfer, got %d", len(list))
	}
}

func TestHandshakeSeedsResolution(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	events := []models.Event{
		{Type: models.EventCreateClient, Attributes: []models.Attribute{
			{Key: "client_id", Value: "07-tendermint-0"},
			{Key: "client_type", Value: "07-tendermint"},
			{Key: "chain_id", Value: "osmosis-1"},
			{Key: "consensus_height", Value: "1-555"},
		}},
		{Type: models.EventConnectionOpenConfirm, Attributes: []models.Attribute{
			{Key: "connection_id", Value: "connection-0"},
			{Key: "client_id", Value: "07-tendermint-0"},
		}},
		{Type: models.EventChannelOpenConfirm, Attributes: []models.Attribute{
			{Key: "channel_id", Value: "channel-0"},
			{Key: "port_id", Value: "transfer"},
			{Key: "connection_id", Value: "connection-0"},
			{Key: "counterparty_channel_id", Value: "channel-999"},
			{Key: "counterparty_port_id", Value: "transfer"},
		}},
	}
	for i, event := range events {
		if err := p.ProcessEvent(ctx, event, evCtx("TX_HS", int64(10+i), t0)); err != nil {
			t.Fatalf("handshake event %d: %v", i, err)
		}
	}

	channel, err := s.GetChannel(ctx, "channel-0", "transfer", models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if channel.State != models.ChannelOpen {
		t.Fatalf("channel state = %s", channel.State)
	}

	client, err := s.GetClient(ctx, "07-tendermint-0", models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if client.ChainID != "osmosis-1" || client.LatestHeight != 555 {
		t.Fatalf("client = %+v", client)
	}

	// a send over the now-seeded channel resolves the counterparty
	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	transfer, err := s.GetTransfer(ctx, packetID(), models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if transfer.DestinationChainID != "osmosis-1" || transfer.DestinationChainName != "Osmosis" {
		t.Fatalf("resolved destination = %s/%s", transfer.DestinationChainID, transfer.DestinationChainName)
	}
}

func TestChannelRollups(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	ack := models.Event{
		Type: models.EventAcknowledgePacket,
		Attributes: packetAttrs(
			models.Attribute{Key: "packet_ack", Value: `{"result":"AQ=="}`},
			models.Attribute{Key: "signer", Value: relayerAddr},
		),
	}
	if err := p.ProcessEvent(ctx, ack, evCtx("TX_ACK", 110, t1)); err != nil {
		t.Fatalf("ack: %v", err)
	}

	channel, err := s.GetChannel(ctx, "channel-0", "transfer", models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if channel.PacketCount != 1 || channel.SuccessCount != 1 {
		t.Fatalf("counters = packets %d success %d", channel.PacketCount, channel.SuccessCount)
	}
	if channel.TotalTokensTransferred["ubbn"] != "1000000" {
		t.Fatalf("volume rollup = %+v", channel.TotalTokensTransferred)
	}
	if channel.AvgCompletionTimeMs != 30000 {
		t.Fatalf("avg completion = %f", channel.AvgCompletionTimeMs)
	}

	relayer, err := s.GetRelayer(ctx, relayerAddr, models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetRelayer: %v", err)
	}
	if relayer.TotalPackets != 1 || relayer.SuccessfulPackets != 1 {
		t.Fatalf("relayer counters = %+v", relayer)
	}

	bucket := t1.Truncate(time.Hour)
	sample, err := s.GetMetricSample(ctx, models.MetricChannel, "channel-0", bucket, models.PeriodHourly, models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetMetricSample: %v", err)
	}
	if sample.PacketCount != 1 || sample.SuccessCount != 1 {
		t.Fatalf("sample = %+v", sample)
	}
}

func TestRecvAfterSendSetsCompletionTime(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	recv := models.Event{
		Type: models.EventRecvPacket,
		Attributes: packetAttrs(
			models.Attribute{Key: "signer", Value: relayerAddr},
		),
	}
	if err := p.ProcessEvent(ctx, recv, evCtx("TX_RECV", 105, t1)); err != nil {
		t.Fatalf("recv: %v", err)
	}

	packet, err := s.GetPacket(ctx, models.PacketKey{
		Sequence: 7, SourcePort: "transfer", SourceChannel: "channel-0",
		DestinationPort: "transfer", DestinationChannel: "channel-12",
		Network: models.NetworkMainnet,
	})
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if packet.Status != models.PacketReceived {
		t.Fatalf("packet status = %s", packet.Status)
	}
	if packet.ReceiveTime == nil || !packet.ReceiveTime.Equal(t1) {
		t.Fatalf("receive_time = %v", packet.ReceiveTime)
	}
	if packet.CompletionTimeMs == nil || *packet.CompletionTimeMs != 30000 {
		t.Fatalf("completion ms = %v", packet.CompletionTimeMs)
	}
}

func TestAckForUnknownTransfer(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)

	ack := models.Event{
		Type: models.EventAcknowledgePacket,
		Attributes: packetAttrs(
			models.Attribute{Key: "packet_ack", Value: `{"result":"AQ=="}`},
		),
	}
	if err := p.ProcessEvent(context.Background(), ack, evCtx("TX_ACK", 110, t1)); err != nil {
		t.Fatalf("ack for unknown transfer must not error: %v", err)
	}
}

func TestInvalidSignerIgnored(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	ack := models.Event{
		Type: models.EventAcknowledgePacket,
		Attributes: packetAttrs(
			models.Attribute{Key: "packet_ack", Value: `{"result":"AQ=="}`},
			models.Attribute{Key: "signer", Value: "not-a-bech32-address"},
		),
	}
	if err := p.ProcessEvent(ctx, ack, evCtx("TX_ACK", 110, t1)); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if _, err := s.GetRelayer(ctx, "not-a-bech32-address", models.NetworkMainnet); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("garbage signer must not create a relayer, got %v", err)
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	p := newProcessor(store.NewMemory())
	event := models.Event{Type: "coin_spent"}
	if err := p.ProcessEvent(context.Background(), event, evCtx("TX", 1, t0)); err != nil {
		t.Fatalf("unknown event must not error: %v", err)
	}
}

func TestTerminalEventsIdempotent(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	ctx := context.Background()

	if err := p.ProcessEvent(ctx, sendEvent(), evCtx("TX_SEND", 100, t0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	ack := models.Event{
		Type: models.EventAcknowledgePacket,
		Attributes: packetAttrs(
			models.Attribute{Key: "packet_ack", Value: `{"result":"AQ=="}`},
		),
	}
	if err := p.ProcessEvent(ctx, ack, evCtx("TX_ACK", 110, t1)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	once, err := s.GetTransfer(ctx, packetID(), models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}

	if err := p.ProcessEvent(ctx, ack, evCtx("TX_ACK", 110, t1)); err != nil {
		t.Fatalf("ack reapply: %v", err)
	}
	twice, err := s.GetTransfer(ctx, packetID(), models.NetworkMainnet)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if once.Status != twice.Status || once.Success != twice.Success ||
		once.CompletionTxHash != twice.CompletionTxHash || once.Error != twice.Error {
		t.Fatalf("ack is not idempotent: %+v vs %+v", once, twice)
	}
}
