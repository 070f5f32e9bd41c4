package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
)

// addAmount sums two base-unit amounts kept as decimal strings. Empty
// operands count as zero; an unparseable operand is an invariant violation.
func addAmount(existing, delta string) (string, error) {
	if existing == "" {
		existing = "0"
	}
	if delta == "" {
		delta = "0"
	}
	a, ok := new(big.Int).SetString(existing, 10)
	if !ok {
		return "", fmt.Errorf("unparseable amount %q", existing)
	}
	b, ok := new(big.Int).SetString(delta, 10)
	if !ok {
		return "", fmt.Errorf("unparseable amount %q", delta)
	}
	return new(big.Int).Add(a, b).String(), nil
}

// validRelayerAddress accepts only well-formed bech32 account addresses, so
// a garbage signer attribute never creates a relayer row.
func validRelayerAddress(address string) bool {
	if address == "" || len(address) > 90 {
		return false
	}
	hrp, _, err := bech32.Decode(address)
	if err != nil {
		return false
	}
	return hrp != ""
}

// transferOutcome is the terminal classification fed into the rollups.
type transferOutcome int

const (
	outcomePending transferOutcome = iota
	outcomeSuccess
	outcomeFailure
	outcomeTimeout
)

// recordChannelActivity maintains the per-channel counters on the local end
// of a packet. The local channel of an outbound packet is its source channel;
// for inbound packets it is the destination channel.
func (p *Processor) recordChannelActivity(
	ctx context.Context,
	channelID, portID string,
	network models.Network,
	outcome transferOutcome,
	denom, amount string,
	relayerAddress string,
	completionMs *int64,
) error {
	channel, err := p.store.GetChannel(ctx, channelID, portID, network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load channel for rollup: %w", err)
		}
		// packet on a channel whose handshake predates indexing
		channel = &models.Channel{
			ChannelID: channelID,
			PortID:    portID,
			Network:   network,
			State:     models.ChannelOpen,
			Ordering:  models.OrderingUnordered,
		}
	}

	switch outcome {
	case outcomePending:
		channel.PacketCount++
	case outcomeSuccess:
		channel.SuccessCount++
	case outcomeFailure:
		channel.FailureCount++
	case outcomeTimeout:
		channel.TimeoutCount++
	}

	if completionMs != nil {
		// incremental average over completed packets
		n := float64(channel.SuccessCount + channel.FailureCount)
		if n < 1 {
			n = 1
		}
		channel.AvgCompletionTimeMs += (float64(*completionMs) - channel.AvgCompletionTimeMs) / n
	}

	if denom != "" && amount != "" && outcome == outcomePending {
		if channel.TotalTokensTransferred == nil {
			channel.TotalTokensTransferred = make(map[string]string)
		}
		total, err := addAmount(channel.TotalTokensTransferred[denom], amount)
		if err != nil {
			return fmt.Errorf("channel %s volume rollup: %w", channelID, err)
		}
		channel.TotalTokensTransferred[denom] = total
	}

	if relayerAddress != "" && !contains(channel.ActiveRelayers, relayerAddress) {
		channel.ActiveRelayers = append(channel.ActiveRelayers, relayerAddress)
	}

	return p.store.UpsertChannel(ctx, channel)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// recordRelayerActivity maintains the per-relayer aggregates keyed by the
// signer of the lifecycle transaction.
func (p *Processor) recordRelayerActivity(
	ctx context.Context,
	address string,
	network models.Network,
	outcome transferOutcome,
	channelID, chainID, denom, amount string,
	relayMs *int64,
) error {
	if !validRelayerAddress(address) {
		return nil
	}

	relayer, err := p.store.GetRelayer(ctx, address, network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load relayer %s: %w", address, err)
		}
		relayer = &models.Relayer{Address: address, Network: network}
	}

	relayer.TotalPackets++
	switch outcome {
	case outcomeSuccess:
		relayer.SuccessfulPackets++
	case outcomeFailure, outcomeTimeout:
		relayer.FailedPackets++
	}

	if relayMs != nil {
		n := float64(relayer.SuccessfulPackets)
		if n < 1 {
			n = 1
		}
		relayer.AvgRelayTimeMs += (float64(*relayMs) - relayer.AvgRelayTimeMs) / n
	}

	if denom != "" && amount != "" {
		if relayer.VolumesByDenom == nil {
			relayer.VolumesByDenom = make(map[string]string)
		}
		total, err := addAmount(relayer.VolumesByDenom[denom], amount)
		if err != nil {
			return fmt.Errorf("relayer %s volume rollup: %w", address, err)
		}
		relayer.VolumesByDenom[denom] = total

		if chainID != "" {
			if relayer.VolumesByChain == nil {
				relayer.VolumesByChain = make(map[string]map[string]string)
			}
			byDenom := relayer.VolumesByChain[chainID]
			if byDenom == nil {
				byDenom = make(map[string]string)
				relayer.VolumesByChain[chainID] = byDenom
			}
			total, err := addAmount(byDenom[denom], amount)
			if err != nil {
				return fmt.Errorf("relayer %s chain volume rollup: %w", address, err)
			}
			byDenom[denom] = total
		}
	}

	if channelID != "" {
		if relayer.Channels == nil {
			relayer.Channels = make(map[string]*models.RelayerChannelStats)
		}
		stats := relayer.Channels[channelID]
		if stats == nil {
			stats = &models.RelayerChannelStats{ChannelID: channelID}
			relayer.Channels[channelID] = stats
		}
		stats.PacketCount++
		if denom != "" && amount != "" {
			if stats.VolumesByDenom == nil {
				stats.VolumesByDenom = make(map[string]string)
			}
			total, err := addAmount(stats.VolumesByDenom[denom], amount)
			if err != nil {
				return fmt.Errorf("relayer %s channel volume rollup: %w", address, err)
			}
			stats.VolumesByDenom[denom] = total
		}
	}

	if chainID != "" && !contains(relayer.ChainsServed, chainID) {
		relayer.ChainsServed = append(relayer.ChainsServed, chainID)
	}

	return p.store.UpsertRelayer(ctx, relayer)
}

// recordMetricSample accumulates a packet into the hourly bucket for its
// channel.
func (p *Processor) recordMetricSample(
	ctx context.Context,
	channelID string,
	network models.Network,
	ts time.Time,
	outcome transferOutcome,
	denom, amount string,
	completionMs *int64,
) error {
	bucket := ts.UTC().Truncate(time.Hour)

	sample, err := p.store.GetMetricSample(ctx, models.MetricChannel, channelID, bucket, models.PeriodHourly, network)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load metric sample: %w", err)
		}
		sample = &models.MetricSample{
			MetricType:  models.MetricChannel,
			ReferenceID: channelID,
			Timestamp:   bucket,
			Period:      models.PeriodHourly,
			Network:     network,
		}
	}

	switch outcome {
	case outcomePending:
		sample.PacketCount++
	case outcomeSuccess:
		sample.SuccessCount++
	case outcomeFailure:
		sample.FailureCount++
	case outcomeTimeout:
		sample.TimeoutCount++
	}

	if completionMs != nil {
		n := float64(sample.SuccessCount + sample.FailureCount)
		if n < 1 {
			n = 1
		}
		sample.AvgCompletionTimeMs += (float64(*completionMs) - sample.AvgCompletionTimeMs) / n
	}

	if denom != "" && amount != "" && outcome == outcomePending {
		merged := false
		for i := range sample.Volumes {
			if sample.Volumes[i].Denom == denom {
				total, err := addAmount(sample.Volumes[i].Amount, amount)
				if err != nil {
					return fmt.Errorf("metric volume rollup: %w", err)
				}
				sample.Volumes[i].Amount = total
				merged = true
				break
			}
		}
		if !merged {
			sample.Volumes = append(sample.Volumes, models.DenomAmount{Denom: denom, Amount: amount})
		}
	}

	return p.store.UpsertMetricSample(ctx, sample)
}

// signerAttribute digs the transaction signer out of event attributes; the
// spelling differs between chain versions.
func signerAttribute(attrs map[string]string) string {
	for _, key := range []string{"signer", "sender", "relayer"} {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			return v
		}
	}
	return ""
}
