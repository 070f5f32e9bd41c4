// Package processor consumes IBC events and drives the packet and transfer
// state machines, the handshake graph and the analytics rollups.
package processor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/packets"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/resolver"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/tokens"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/transfers"
)

const lockShards = 64

// Processor applies events to the store. Within one network, updates to a
// single packet key are serialized through sharded locks; different keys
// proceed in parallel.
type Processor struct {
	store    store.Store
	identity *packets.Identity
	resolver *resolver.Resolver
	tokens   *tokens.Service
	metrics  *Metrics

	locks [lockShards]sync.Mutex

	log zerolog.Logger
}

// New creates a processor. The Prometheus registerer is injected so tests
// can run with a private registry.
func New(
	s store.Store,
	res *resolver.Resolver,
	tokenSvc *tokens.Service,
	reg prometheus.Registerer,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		store:    s,
		identity: packets.NewIdentity(log),
		resolver: res,
		tokens:   tokenSvc,
		metrics:  NewMetrics(reg),
		log:      log,
	}
}

func (p *Processor) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &p.locks[h.Sum32()%lockShards]
}

// ProcessEvent dispatches one event. A malformed event is dropped with a
// warning; only store failures surface as errors so one bad event never
// halts the stream.
func (p *Processor) ProcessEvent(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	p.metrics.EventsTotal.WithLabelValues(event.Type).Inc()

	switch event.Type {
	case models.EventSendPacket, models.EventRecvPacket:
		return p.handleSendRecv(ctx, event, evCtx)
	case models.EventAcknowledgePacket:
		return p.handleAcknowledge(ctx, event, evCtx)
	case models.EventTimeoutPacket:
		return p.handleTimeout(ctx, event, evCtx)
	case models.EventFungibleTokenPacket, models.EventTransferPacket:
		return p.handleFungible(ctx, event, evCtx)
	case models.EventWriteAcknowledgement:
		// the destination-side companion of acknowledge_packet; the
		// source-side event carries everything the transfer needs
		p.log.Debug().Str("tx", evCtx.TxHash).Msg("write_acknowledgement observed")
		return nil
	case models.EventCreateClient, models.EventUpdateClient:
		return p.handleClientEvent(ctx, event, evCtx)
	case models.EventConnectionOpenInit, models.EventConnectionOpenTry,
		models.EventConnectionOpenAck, models.EventConnectionOpenConfirm:
		return p.handleConnectionEvent(ctx, event, evCtx)
	case models.EventChannelOpenInit, models.EventChannelOpenTry,
		models.EventChannelOpenAck, models.EventChannelOpenConfirm,
		models.EventChannelCloseInit, models.EventChannelCloseConfirm:
		return p.handleChannelEvent(ctx, event, evCtx)
	default:
		p.metrics.UnknownEvents.Inc()
		p.log.Debug().Str("event", event.Type).Str("tx", evCtx.TxHash).Msg("ignoring unknown event type")
		return nil
	}
}

func (p *Processor) handleSendRecv(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	info := p.identity.HandlePacketEvent(event, evCtx)
	if info == nil {
		p.metrics.DroppedEvents.Inc()
		return nil
	}

	lock := p.lockFor(info.PacketID)
	lock.Lock()
	defer lock.Unlock()

	attrs := packets.FlattenAttributes(event)
	isSend := event.Type == models.EventSendPacket

	var data *models.TransferPacketData
	if raw := attrs["packet_data"]; raw != "" {
		parsed, err := tokens.ParseTransferData(raw)
		if err != nil {
			p.log.Warn().Err(err).Str("tx", evCtx.TxHash).Msg("unparseable packet data")
		} else {
			data = parsed
		}
	}
	if data == nil {
		data = &models.TransferPacketData{}
	}

	source, destination := p.resolver.TransferChainInfo(ctx, event.Type, info.PacketKey)

	if err := p.upsertLifecyclePacket(ctx, info, attrs, evCtx, isSend, source.ChainID, destination.ChainID); err != nil {
		return err
	}

	transfer, err := p.store.GetTransfer(ctx, info.PacketID, evCtx.Network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load transfer %s: %w", info.PacketID, err)
		}
		transfer = &models.Transfer{
			PacketID: info.PacketID,
			Network:  evCtx.Network,
			SendTime: evCtx.BlockTime,
			TxHash:   evCtx.TxHash,
		}
	}

	terminal := transfer.Status == models.TransferCompleted ||
		transfer.Status == models.TransferFailed ||
		transfer.Status == models.TransferTimeout
	if !terminal {
		if isSend {
			transfer.Status = models.TransferPending
		} else {
			transfer.Status = models.TransferReceived
		}
	}

	if data.Sender != "" {
		transfer.Sender = data.Sender
	}
	if data.Receiver != "" {
		transfer.Receiver = data.Receiver
	}
	if data.Denom != "" {
		transfer.Denom = data.Denom
	}
	if data.Amount != "" {
		transfer.Amount = data.Amount
	}
	if data.Memo != "" {
		transfer.Memo = data.Memo
	}
	if transfer.Denom != "" {
		transfer.TokenSymbol = tokens.ExtractTokenSymbol(transfer.Denom)
		transfer.TokenDisplayAmount = tokens.FormatTokenAmount(transfer.Amount, transfer.TokenSymbol)
	}

	transfer.SourceChainID = source.ChainID
	transfer.SourceChainName = source.ChainName
	transfer.DestinationChainID = destination.ChainID
	transfer.DestinationChainName = destination.ChainName
	transfer.SourceChannelID = info.SourceChannel
	transfer.DestinationChannelID = info.DestinationChannel
	transfer.UpdatedAt = evCtx.BlockTime

	if err := p.store.UpsertTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("failed to upsert transfer %s: %w", info.PacketID, err)
	}
	p.metrics.TransitionTotal.WithLabelValues(string(transfer.Status)).Inc()

	localChannel := info.SourceChannel
	localPort := info.SourcePort
	relayerAddress := ""
	if !isSend {
		localChannel = info.DestinationChannel
		localPort = info.DestinationPort
		relayerAddress = signerAttribute(attrs)
		if !validRelayerAddress(relayerAddress) {
			relayerAddress = ""
		}
	}

	if err := p.recordChannelActivity(ctx, localChannel, localPort, evCtx.Network,
		outcomePending, transfer.Denom, transfer.Amount, relayerAddress, nil); err != nil {
		return err
	}
	if relayerAddress != "" {
		counterparty := source.ChainID
		if err := p.recordRelayerActivity(ctx, relayerAddress, evCtx.Network,
			outcomePending, localChannel, counterparty, transfer.Denom, transfer.Amount, nil); err != nil {
			return err
		}
	}
	return p.recordMetricSample(ctx, localChannel, evCtx.Network, evCtx.BlockTime,
		outcomePending, transfer.Denom, transfer.Amount, nil)
}

// upsertLifecyclePacket records the raw packet row for a send or recv event.
func (p *Processor) upsertLifecyclePacket(
	ctx context.Context,
	info *packets.Info,
	attrs map[string]string,
	evCtx models.EventContext,
	isSend bool,
	sourceChainID, destinationChainID string,
) error {
	packet, err := p.store.GetPacket(ctx, info.PacketKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load packet: %w", err)
		}
		packet = &models.Packet{PacketKey: info.PacketKey}
	}

	if hexData := attrs["packet_data_hex"]; hexData != "" {
		packet.DataHex = hexData
	} else if raw := attrs["packet_data"]; raw != "" {
		packet.DataHex = hex.EncodeToString([]byte(raw))
	}
	if th := attrs["packet_timeout_height"]; th != "" {
		var revision, height uint64
		if _, err := fmt.Sscanf(th, "%d-%d", &revision, &height); err == nil {
			packet.TimeoutHeight = models.TimeoutHeight{RevisionNumber: revision, RevisionHeight: height}
		}
	}
	if tt := attrs["packet_timeout_timestamp"]; tt != "" {
		if v, err := strconv.ParseUint(tt, 10, 64); err == nil {
			packet.TimeoutTimestamp = v
		}
	}

	ts := evCtx.BlockTime
	terminal := packet.Status == models.PacketAcknowledged || packet.Status == models.PacketTimeout
	if isSend {
		packet.SendTxHash = evCtx.TxHash
		packet.SendTime = &ts
		if !terminal {
			packet.Status = models.PacketSent
		}
	} else {
		packet.ReceiveTxHash = evCtx.TxHash
		packet.ReceiveTime = &ts
		if !terminal {
			packet.Status = models.PacketReceived
		}
		if signer := signerAttribute(attrs); validRelayerAddress(signer) {
			packet.RelayerAddress = signer
		}
		// receive terminates the measured lifecycle too
		if packet.SendTime != nil {
			if ms := ts.Sub(*packet.SendTime).Milliseconds(); ms >= 0 {
				packet.CompletionTimeMs = &ms
			}
		}
	}
	packet.SourceChainID = sourceChainID
	packet.DestinationChainID = destinationChainID

	return p.store.UpsertPacket(ctx, packet)
}

func (p *Processor) handleAcknowledge(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	info := p.identity.HandlePacketEvent(event, evCtx)
	if info == nil {
		p.metrics.DroppedEvents.Inc()
		return nil
	}

	lock := p.lockFor(info.PacketID)
	lock.Lock()
	defer lock.Unlock()

	attrs := packets.FlattenAttributes(event)
	ok := transfers.IsSuccessfulAcknowledgement(attrs)
	ackErr := attrs["packet_ack_error"]
	if ackErr == "" {
		ackErr = attrs["error"]
	}

	completionMs := p.finalizePacket(ctx, info, attrs, evCtx, models.PacketAcknowledged)

	transfer, err := p.store.GetTransfer(ctx, info.PacketID, evCtx.Network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load transfer %s: %w", info.PacketID, err)
		}
		p.log.Debug().Str("packet_id", info.PacketID).Msg("acknowledgement for unknown transfer")
		return nil
	}

	updated := transfers.UpdateForAcknowledgement(*transfer, evCtx.TxHash, evCtx.Height, evCtx.BlockTime, ok, ackErr)
	if err := p.store.UpsertTransfer(ctx, &updated); err != nil {
		return fmt.Errorf("failed to upsert transfer %s: %w", info.PacketID, err)
	}
	p.metrics.TransitionTotal.WithLabelValues(string(updated.Status)).Inc()

	outcome := outcomeSuccess
	if !ok {
		outcome = outcomeFailure
	}
	relayerAddress := signerAttribute(attrs)
	if !validRelayerAddress(relayerAddress) {
		relayerAddress = ""
	}

	if err := p.recordChannelActivity(ctx, info.SourceChannel, info.SourcePort, evCtx.Network,
		outcome, "", "", relayerAddress, completionMs); err != nil {
		return err
	}
	if relayerAddress != "" {
		if err := p.recordRelayerActivity(ctx, relayerAddress, evCtx.Network,
			outcome, info.SourceChannel, updated.DestinationChainID,
			updated.Denom, updated.Amount, completionMs); err != nil {
			return err
		}
	}
	return p.recordMetricSample(ctx, info.SourceChannel, evCtx.Network, evCtx.BlockTime,
		outcome, "", "", completionMs)
}

func (p *Processor) handleTimeout(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	info := p.identity.HandlePacketEvent(event, evCtx)
	if info == nil {
		p.metrics.DroppedEvents.Inc()
		return nil
	}

	lock := p.lockFor(info.PacketID)
	lock.Lock()
	defer lock.Unlock()

	attrs := packets.FlattenAttributes(event)
	p.finalizePacket(ctx, info, attrs, evCtx, models.PacketTimeout)

	transfer, err := p.store.GetTransfer(ctx, info.PacketID, evCtx.Network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load transfer %s: %w", info.PacketID, err)
		}
		p.log.Debug().Str("packet_id", info.PacketID).Msg("timeout for unknown transfer")
		return nil
	}

	updated := transfers.UpdateForTimeout(*transfer, evCtx.TxHash, evCtx.Height, evCtx.BlockTime)
	if err := p.store.UpsertTransfer(ctx, &updated); err != nil {
		return fmt.Errorf("failed to upsert transfer %s: %w", info.PacketID, err)
	}
	p.metrics.TransitionTotal.WithLabelValues(string(updated.Status)).Inc()

	relayerAddress := signerAttribute(attrs)
	if !validRelayerAddress(relayerAddress) {
		relayerAddress = ""
	}
	if err := p.recordChannelActivity(ctx, info.SourceChannel, info.SourcePort, evCtx.Network,
		outcomeTimeout, "", "", relayerAddress, nil); err != nil {
		return err
	}
	if relayerAddress != "" {
		if err := p.recordRelayerActivity(ctx, relayerAddress, evCtx.Network,
			outcomeTimeout, info.SourceChannel, updated.DestinationChainID,
			"", "", nil); err != nil {
			return err
		}
	}
	return p.recordMetricSample(ctx, info.SourceChannel, evCtx.Network, evCtx.BlockTime,
		outcomeTimeout, "", "", nil)
}

// finalizePacket applies a terminal event to the packet row and returns the
// completion time when both endpoints of the lifecycle were observed.
func (p *Processor) finalizePacket(
	ctx context.Context,
	info *packets.Info,
	attrs map[string]string,
	evCtx models.EventContext,
	status models.PacketStatus,
) *int64 {
	packet, err := p.store.GetPacket(ctx, info.PacketKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.log.Warn().Err(err).Str("packet_id", info.PacketID).Msg("failed to load packet for finalization")
			return nil
		}
		packet = &models.Packet{PacketKey: info.PacketKey}
	}

	ts := evCtx.BlockTime
	packet.Status = status
	if status == models.PacketAcknowledged {
		packet.AckTxHash = evCtx.TxHash
		packet.AckTime = &ts
	} else {
		packet.TimeoutTxHash = evCtx.TxHash
		packet.TimeoutTime = &ts
	}
	if signer := signerAttribute(attrs); validRelayerAddress(signer) {
		packet.RelayerAddress = signer
	}

	var completionMs *int64
	if packet.SendTime != nil {
		ms := ts.Sub(*packet.SendTime).Milliseconds()
		if ms >= 0 {
			completionMs = &ms
			packet.CompletionTimeMs = &ms
		}
	}

	if err := p.store.UpsertPacket(ctx, packet); err != nil {
		p.log.Warn().Err(err).Str("packet_id", info.PacketID).Msg("failed to finalize packet")
	}
	return completionMs
}

// handleFungible enriches an existing transfer with the token payload; it
// never creates one. Correlation is by transaction hash first, then by the
// packet identity inherited from the transaction context.
func (p *Processor) handleFungible(ctx context.Context, event models.Event, evCtx models.EventContext) error {
	attrs := packets.FlattenAttributes(event)

	transfer, err := p.store.GetTransferByTxHash(ctx, evCtx.TxHash, evCtx.Network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to look up transfer by tx: %w", err)
		}
		info := p.identity.HandlePacketEvent(event, evCtx)
		if info == nil {
			return nil
		}
		transfer, err = p.store.GetTransfer(ctx, info.PacketID, evCtx.Network)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("failed to load transfer %s: %w", info.PacketID, err)
			}
			// enrichment only: no transfer, nothing to do
			return nil
		}
	}

	lock := p.lockFor(transfer.PacketID)
	lock.Lock()
	defer lock.Unlock()

	// reload under the lock; the tx-hash lookup above ran outside it
	transfer, err = p.store.GetTransfer(ctx, transfer.PacketID, transfer.Network)
	if err != nil {
		return fmt.Errorf("failed to reload transfer: %w", err)
	}

	if v := attrs["denom"]; v != "" {
		transfer.Denom = v
	}
	if v := attrs["amount"]; v != "" {
		transfer.Amount = v
	}
	if v := attrs["sender"]; v != "" {
		transfer.Sender = v
	}
	if v := attrs["receiver"]; v != "" {
		transfer.Receiver = v
	}
	if v := attrs["memo"]; v != "" {
		transfer.Memo = v
	}
	if transfer.Denom != "" {
		transfer.TokenSymbol = tokens.ExtractTokenSymbol(transfer.Denom)
		transfer.TokenDisplayAmount = tokens.FormatTokenAmount(transfer.Amount, transfer.TokenSymbol)
	}

	// the success attribute is "true" on recent chains and the raw
	// byte 0x01 on older ones
	success := attrs["success"]
	transfer.Success = success == "true" || success == "\u0001"
	if transfer.Success &&
		(transfer.Status == models.TransferPending || transfer.Status == models.TransferReceived) {
		transfer.Status = models.TransferCompleted
		ts := evCtx.BlockTime
		transfer.CompleteTime = &ts
	}
	transfer.UpdatedAt = evCtx.BlockTime

	if err := p.store.UpsertTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("failed to upsert transfer %s: %w", transfer.PacketID, err)
	}
	p.metrics.TransitionTotal.WithLabelValues(string(transfer.Status)).Inc()
	return nil
}
