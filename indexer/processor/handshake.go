package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/packets"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
)

// Handshake events seed the channel -> connection -> client graph that the
// chain resolver walks. Partial handshakes are recorded as they arrive, so a
// later packet on a half-open channel can still resolve once it opens.

func (p *Processor) handleClientEvent(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	attrs := packets.FlattenAttributes(event)
	clientID := attrs["client_id"]
	if clientID == "" {
		p.metrics.DroppedEvents.Inc()
		p.log.Warn().Str("event", event.Type).Msg("client event without client_id")
		return nil
	}

	client, err := p.store.GetClient(ctx, clientID, evCtx.Network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load client %s: %w", clientID, err)
		}
		client = &models.Client{ClientID: clientID, Network: evCtx.Network}
	}

	if v := attrs["client_type"]; v != "" {
		client.ClientType = v
	}
	// the counterparty chain id is only present on some chain versions;
	// when absent the connection-level counterparty fills the gap later
	if v := attrs["chain_id"]; v != "" {
		client.ChainID = v
	}
	if h := revisionHeight(attrs["consensus_height"]); h > 0 {
		client.LatestHeight = h
	}
	client.LastUpdate = evCtx.BlockTime

	return p.store.UpsertClient(ctx, client)
}

func (p *Processor) handleConnectionEvent(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	attrs := packets.FlattenAttributes(event)
	connectionID := attrs["connection_id"]
	if connectionID == "" {
		p.metrics.DroppedEvents.Inc()
		p.log.Warn().Str("event", event.Type).Msg("connection event without connection_id")
		return nil
	}

	conn, err := p.store.GetConnection(ctx, connectionID, evCtx.Network)
	created := false
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load connection %s: %w", connectionID, err)
		}
		conn = &models.Connection{ConnectionID: connectionID, Network: evCtx.Network}
		created = true
	}

	if v := attrs["client_id"]; v != "" {
		conn.ClientID = v
	}
	if v := attrs["counterparty_connection_id"]; v != "" {
		conn.CounterpartyConnectionID = v
	}
	if v := attrs["counterparty_client_id"]; v != "" {
		conn.CounterpartyClientID = v
	}
	if v := attrs["counterparty_chain_id"]; v != "" {
		conn.CounterpartyChainID = v
	}

	switch event.Type {
	case models.EventConnectionOpenInit:
		conn.State = models.ConnectionInit
	case models.EventConnectionOpenTry:
		conn.State = models.ConnectionTryOpen
	case models.EventConnectionOpenAck, models.EventConnectionOpenConfirm:
		conn.State = models.ConnectionOpen
	}
	conn.LastActivity = evCtx.BlockTime

	if err := p.store.UpsertConnection(ctx, conn); err != nil {
		return err
	}

	if created && conn.ClientID != "" {
		if client, err := p.store.GetClient(ctx, conn.ClientID, evCtx.Network); err == nil {
			client.ConnectionCount++
			client.LastUpdate = evCtx.BlockTime
			if err := p.store.UpsertClient(ctx, client); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) handleChannelEvent(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	attrs := packets.FlattenAttributes(event)
	channelID := attrs["channel_id"]
	portID := attrs["port_id"]
	if channelID == "" || portID == "" {
		p.metrics.DroppedEvents.Inc()
		p.log.Warn().Str("event", event.Type).Msg("channel event without channel_id/port_id")
		return nil
	}

	channel, err := p.store.GetChannel(ctx, channelID, portID, evCtx.Network)
	created := false
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load channel %s/%s: %w", channelID, portID, err)
		}
		channel = &models.Channel{
			ChannelID: channelID,
			PortID:    portID,
			Network:   evCtx.Network,
			Ordering:  models.OrderingUnordered,
		}
		created = true
	}

	if v := attrs["connection_id"]; v != "" {
		channel.ConnectionID = v
	}
	if v := attrs["counterparty_channel_id"]; v != "" {
		channel.CounterpartyChannelID = v
	}
	if v := attrs["counterparty_port_id"]; v != "" {
		channel.CounterpartyPortID = v
	}
	if v := attrs["version"]; v != "" {
		channel.Version = v
	}
	if v := attrs["ordering"]; v == string(models.OrderingOrdered) {
		channel.Ordering = models.OrderingOrdered
	}

	switch event.Type {
	case models.EventChannelOpenInit:
		channel.State = models.ChannelInit
	case models.EventChannelOpenTry:
		channel.State = models.ChannelTryOpen
	case models.EventChannelOpenAck, models.EventChannelOpenConfirm:
		channel.State = models.ChannelOpen
	case models.EventChannelCloseInit, models.EventChannelCloseConfirm:
		channel.State = models.ChannelClosed
	}

	if err := p.store.UpsertChannel(ctx, channel); err != nil {
		return err
	}

	if created && channel.ConnectionID != "" {
		if conn, err := p.store.GetConnection(ctx, channel.ConnectionID, evCtx.Network); err == nil {
			conn.ChannelCount++
			conn.LastActivity = evCtx.BlockTime
			if err := p.store.UpsertConnection(ctx, conn); err != nil {
				return err
			}
		}
	}
	return nil
}

// revisionHeight parses the height part of an IBC "revision-height" pair.
func revisionHeight(s string) int64 {
	var revision, height int64
	if _, err := fmt.Sscanf(s, "%d-%d", &revision, &height); err != nil {
		return 0
	}
	return height
}
