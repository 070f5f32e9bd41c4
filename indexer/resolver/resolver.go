// Package resolver maps IBC channels to counterparty chains by walking the
// channel -> connection -> client link chain recorded in the store.
package resolver

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/chains"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
)

// FallbackChainID is used when the counterparty cannot be resolved, either
// because the handshake was never indexed or a link is missing.
const FallbackChainID = "external-chain"

const (
	mainnetChainID = "bbn-1"
	testnetChainID = "bbn-test-5"
)

// Local channel ids follow the "channel-<n>" pattern with small n; remote
// chains can use the same scheme, so the bound keeps the heuristic honest.
var localChannelPattern = regexp.MustCompile(`^channel-(\d+)$`)

const localChannelMaxIndex = 100

// ChainInfo is a resolved chain identity.
type ChainInfo struct {
	ChainID   string
	ChainName string
}

// linkStore is the slice of the store the resolver reads.
type linkStore interface {
	store.ClientStore
	store.ConnectionStore
	store.ChannelStore
}

// Resolver resolves channel endpoints to chain identities.
type Resolver struct {
	store    linkStore
	registry *chains.Registry

	// local chain ids, overridable for non-Babylon deployments
	mainnetID string
	testnetID string

	log zerolog.Logger
}

// New creates a resolver with the default local chain ids.
func New(s linkStore, registry *chains.Registry, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:     s,
		registry:  registry,
		mainnetID: mainnetChainID,
		testnetID: testnetChainID,
		log:       log,
	}
}

// SetLocalChainIDs overrides the chain ids reported for the local chain.
func (r *Resolver) SetLocalChainIDs(mainnet, testnet string) {
	if mainnet != "" {
		r.mainnetID = mainnet
	}
	if testnet != "" {
		r.testnetID = testnet
	}
}

// LocalChainID returns the chain id of the local chain for a network.
func (r *Resolver) LocalChainID(network models.Network) string {
	if network == models.NetworkTestnet {
		return r.testnetID
	}
	return r.mainnetID
}

// LocalChainInfo returns the local chain identity with its registry name.
func (r *Resolver) LocalChainInfo(network models.Network) ChainInfo {
	id := r.LocalChainID(network)
	return ChainInfo{ChainID: id, ChainName: r.registry.Resolve(id)}
}

// ChainInfoFromChannel walks channel -> connection -> client and returns the
// counterparty chain identity. A missing link anywhere in the walk is logged
// at warn level and resolves to nil, not an error: gaps are expected when the
// handshake predates indexing.
func (r *Resolver) ChainInfoFromChannel(ctx context.Context, channelID, portID string, network models.Network) *ChainInfo {
	channel, err := r.store.GetChannel(ctx, channelID, portID, network)
	if err != nil {
		r.warnMissing(err, "channel", channelID, network)
		return nil
	}

	conn, err := r.store.GetConnection(ctx, channel.ConnectionID, network)
	if err != nil {
		r.warnMissing(err, "connection", channel.ConnectionID, network)
		return nil
	}

	// the connection usually carries the counterparty chain id directly
	chainID := conn.CounterpartyChainID
	if chainID == "" {
		client, err := r.store.GetClient(ctx, conn.ClientID, network)
		if err != nil {
			r.warnMissing(err, "client", conn.ClientID, network)
			return nil
		}
		chainID = client.ChainID
	}
	if chainID == "" {
		r.log.Warn().
			Str("channel", channelID).
			Str("connection", channel.ConnectionID).
			Msg("link chain resolved but chain id is empty")
		return nil
	}

	return &ChainInfo{ChainID: chainID, ChainName: r.registry.Resolve(chainID)}
}

func (r *Resolver) warnMissing(err error, kind, id string, network models.Network) {
	evt := r.log.Warn()
	if errors.Is(err, store.ErrNotFound) {
		evt = r.log.Debug()
	}
	evt.Err(err).
		Str("kind", kind).
		Str("id", id).
		Str("network", string(network)).
		Msg("chain resolution walk hit a missing link")
}

// isLocalChannel reports whether a channel id looks like one issued by the
// local chain: "channel-<n>" with n below the local index bound.
func isLocalChannel(channelID string) bool {
	match := localChannelPattern.FindStringSubmatch(channelID)
	if match == nil {
		return false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return false
	}
	return n < localChannelMaxIndex
}

// TransferChainInfo classifies a packet's direction and resolves both ends.
// send_packet is always outbound and recv_packet always inbound; other event
// types fall back to the channel-id heuristic, with ties treated as outbound.
// Unresolvable counterparties get the external-chain fallback.
func (r *Resolver) TransferChainInfo(
	ctx context.Context,
	eventType string,
	key models.PacketKey,
) (source, destination ChainInfo) {
	outbound := true
	switch eventType {
	case models.EventSendPacket:
		outbound = true
	case models.EventRecvPacket:
		outbound = false
	default:
		srcLocal := isLocalChannel(key.SourceChannel)
		dstLocal := isLocalChannel(key.DestinationChannel)
		if dstLocal && !srcLocal {
			outbound = false
		}
	}

	local := r.LocalChainInfo(key.Network)
	fallback := ChainInfo{ChainID: FallbackChainID, ChainName: r.registry.Resolve(FallbackChainID)}

	if outbound {
		source = local
		destination = fallback
		if info := r.ChainInfoFromChannel(ctx, key.SourceChannel, key.SourcePort, key.Network); info != nil {
			destination = *info
		}
		return source, destination
	}

	destination = local
	source = fallback
	if info := r.ChainInfoFromChannel(ctx, key.DestinationChannel, key.DestinationPort, key.Network); info != nil {
		source = *info
	}
	return source, destination
}
