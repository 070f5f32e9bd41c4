package resolver_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/chains"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/resolver"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
)

// seedLink records a full channel -> connection -> client chain pointing at
// the given counterparty chain id.
func seedLink(t *testing.T, s store.Store, network models.Network, channelID, chainID string) {
	t.Helper()
	ctx := context.Background()

	if err := s.UpsertClient(ctx, &models.Client{
		ClientID: "07-tendermint-7", Network: network,
		ClientType: "07-tendermint", ChainID: chainID,
	}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := s.UpsertConnection(ctx, &models.Connection{
		ConnectionID: "connection-3", Network: network,
		ClientID: "07-tendermint-7", CounterpartyChainID: chainID,
		State: models.ConnectionOpen,
	}); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	if err := s.UpsertChannel(ctx, &models.Channel{
		ChannelID: channelID, PortID: "transfer", Network: network,
		ConnectionID: "connection-3", State: models.ChannelOpen,
		Ordering: models.OrderingUnordered,
	}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
}

func newResolver(s store.Store) *resolver.Resolver {
	return resolver.New(s, chains.NewRegistry(), zerolog.Nop())
}

func TestLocalChainID(t *testing.T) {
	r := newResolver(store.NewMemory())

	if got := r.LocalChainID(models.NetworkMainnet); got != "bbn-1" {
		t.Fatalf("mainnet id = %s", got)
	}
	if got := r.LocalChainID(models.NetworkTestnet); got != "bbn-test-5" {
		t.Fatalf("testnet id = %s", got)
	}

	r.SetLocalChainIDs("custom-1", "")
	if got := r.LocalChainID(models.NetworkMainnet); got != "custom-1" {
		t.Fatalf("override not applied: %s", got)
	}
	if got := r.LocalChainID(models.NetworkTestnet); got != "bbn-test-5" {
		t.Fatalf("empty override must not clobber: %s", got)
	}
}

func TestChainInfoFromChannel_FullWalk(t *testing.T) {
	s := store.NewMemory()
	seedLink(t, s, models.NetworkMainnet, "channel-5", "osmosis-1")
	r := newResolver(s)

	info := r.ChainInfoFromChannel(context.Background(), "channel-5", "transfer", models.NetworkMainnet)
	if info == nil {
		t.Fatalf("walk returned nil for a fully seeded link")
	}
	if info.ChainID != "osmosis-1" {
		t.Fatalf("chain id = %s", info.ChainID)
	}
	if info.ChainName != "Osmosis" {
		t.Fatalf("chain name = %s", info.ChainName)
	}
}

func TestChainInfoFromChannel_MissingLinks(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	r := newResolver(s)

	// nothing seeded
	if info := r.ChainInfoFromChannel(ctx, "channel-0", "transfer", models.NetworkMainnet); info != nil {
		t.Fatalf("missing channel should resolve to nil, got %+v", info)
	}

	// channel without its connection
	if err := s.UpsertChannel(ctx, &models.Channel{
		ChannelID: "channel-0", PortID: "transfer", Network: models.NetworkMainnet,
		ConnectionID: "connection-9",
	}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if info := r.ChainInfoFromChannel(ctx, "channel-0", "transfer", models.NetworkMainnet); info != nil {
		t.Fatalf("missing connection should resolve to nil, got %+v", info)
	}

	// connection without counterparty chain id and without its client
	if err := s.UpsertConnection(ctx, &models.Connection{
		ConnectionID: "connection-9", Network: models.NetworkMainnet,
		ClientID: "07-tendermint-1",
	}); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	if info := r.ChainInfoFromChannel(ctx, "channel-0", "transfer", models.NetworkMainnet); info != nil {
		t.Fatalf("missing client should resolve to nil, got %+v", info)
	}

	// client closes the walk
	if err := s.UpsertClient(ctx, &models.Client{
		ClientID: "07-tendermint-1", Network: models.NetworkMainnet,
		ChainID: "cosmoshub-4",
	}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	info := r.ChainInfoFromChannel(ctx, "channel-0", "transfer", models.NetworkMainnet)
	if info == nil || info.ChainID != "cosmoshub-4" {
		t.Fatalf("walk through client failed: %+v", info)
	}
	if info.ChainName != "Cosmos Hub" {
		t.Fatalf("chain name = %s", info.ChainName)
	}
}

func TestTransferChainInfo_SendPacket(t *testing.T) {
	s := store.NewMemory()
	seedLink(t, s, models.NetworkMainnet, "channel-5", "osmosis-1")
	r := newResolver(s)

	source, dest := r.TransferChainInfo(context.Background(), models.EventSendPacket, models.PacketKey{
		SourcePort: "transfer", SourceChannel: "channel-5",
		DestinationPort: "transfer", DestinationChannel: "channel-7800",
		Sequence: 1, Network: models.NetworkMainnet,
	})

	if source.ChainID != "bbn-1" || source.ChainName != "Babylon Genesis" {
		t.Fatalf("send source = %+v", source)
	}
	if dest.ChainID != "osmosis-1" {
		t.Fatalf("send destination = %+v", dest)
	}
}

func TestTransferChainInfo_RecvPacket(t *testing.T) {
	s := store.NewMemory()
	seedLink(t, s, models.NetworkTestnet, "channel-2", "osmosis-1")
	r := newResolver(s)

	source, dest := r.TransferChainInfo(context.Background(), models.EventRecvPacket, models.PacketKey{
		SourcePort: "transfer", SourceChannel: "channel-9999",
		DestinationPort: "transfer", DestinationChannel: "channel-2",
		Sequence: 1, Network: models.NetworkTestnet,
	})

	if dest.ChainID != "bbn-test-5" {
		t.Fatalf("recv destination = %+v", dest)
	}
	if source.ChainID != "osmosis-1" {
		t.Fatalf("recv source = %+v", source)
	}
}

func TestTransferChainInfo_Fallback(t *testing.T) {
	r := newResolver(store.NewMemory())

	source, dest := r.TransferChainInfo(context.Background(), models.EventSendPacket, models.PacketKey{
		SourcePort: "transfer", SourceChannel: "channel-5",
		DestinationPort: "transfer", DestinationChannel: "channel-0",
		Sequence: 1, Network: models.NetworkMainnet,
	})
	if source.ChainID != "bbn-1" {
		t.Fatalf("source = %+v", source)
	}
	if dest.ChainID != resolver.FallbackChainID {
		t.Fatalf("unresolvable destination should fall back, got %+v", dest)
	}
}

func TestTransferChainInfo_Heuristic(t *testing.T) {
	s := store.NewMemory()
	seedLink(t, s, models.NetworkMainnet, "channel-3", "neutron-1")
	r := newResolver(s)
	ctx := context.Background()

	// destination channel is clearly local, source is not: inbound
	source, dest := r.TransferChainInfo(ctx, models.EventWriteAcknowledgement, models.PacketKey{
		SourcePort: "transfer", SourceChannel: "channel-4242",
		DestinationPort: "transfer", DestinationChannel: "channel-3",
		Sequence: 1, Network: models.NetworkMainnet,
	})
	if dest.ChainID != "bbn-1" {
		t.Fatalf("heuristic inbound destination = %+v", dest)
	}
	if source.ChainID != "neutron-1" {
		t.Fatalf("heuristic inbound source = %+v", source)
	}

	// both channels look local: tie resolves outbound
	source, _ = r.TransferChainInfo(ctx, models.EventWriteAcknowledgement, models.PacketKey{
		SourcePort: "transfer", SourceChannel: "channel-3",
		DestinationPort: "transfer", DestinationChannel: "channel-7",
		Sequence: 1, Network: models.NetworkMainnet,
	})
	if source.ChainID != "bbn-1" {
		t.Fatalf("tie should classify outbound, source = %+v", source)
	}
}
