// Package remote wraps the Cosmos REST surface of a counterparty chain for
// read-only packet queries.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

const defaultTimeout = 30 * time.Second

// Client queries one remote chain over its REST endpoint. 404 responses are
// semantic absence, never errors.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a remote query client. timeout <= 0 selects the 30 s
// default.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// notFoundError distinguishes a semantic 404 from transport failures inside
// this package.
type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return "not found: " + e.path }

// get performs one GET and decodes the JSON body into out. A 404 returns a
// *notFoundError for the caller to interpret.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote query failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn().Err(err).Msg("failed to close remote response body")
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return &notFoundError{path: path}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote query %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read remote response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse remote response: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

// GetCurrentHeight returns the latest committed block height.
func (c *Client) GetCurrentHeight(ctx context.Context) (int64, error) {
	var payload struct {
		Block struct {
			Header struct {
				Height string `json:"height"`
			} `json:"header"`
		} `json:"block"`
	}
	if err := c.get(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest", &payload); err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(payload.Block.Header.Height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable block height %q: %w", payload.Block.Header.Height, err)
	}
	return height, nil
}

// ChannelEnd is the remote view of one channel endpoint.
type ChannelEnd struct {
	State    string `json:"state"`
	Ordering string `json:"ordering"`
	Version  string `json:"version"`

	Counterparty struct {
		PortID    string `json:"port_id"`
		ChannelID string `json:"channel_id"`
	} `json:"counterparty"`

	ConnectionHops []string `json:"connection_hops"`
}

// QueryChannel fetches the channel end for a port/channel pair.
func (c *Client) QueryChannel(ctx context.Context, channelID, portID string) (*ChannelEnd, error) {
	var payload struct {
		Channel ChannelEnd `json:"channel"`
	}
	path := fmt.Sprintf("/ibc/core/channel/v1/channels/%s/ports/%s",
		url.PathEscape(channelID), url.PathEscape(portID))
	if err := c.get(ctx, path, &payload); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &payload.Channel, nil
}

// QueryPacketCommitment reports whether a commitment exists for the
// sequence. No commitment means the packet was already relayed or timed out.
func (c *Client) QueryPacketCommitment(ctx context.Context, channelID, portID string, sequence uint64) (bool, error) {
	var payload struct {
		Commitment string `json:"commitment"`
	}
	path := fmt.Sprintf("/ibc/core/channel/v1/channels/%s/ports/%s/packet_commitments/%d",
		url.PathEscape(channelID), url.PathEscape(portID), sequence)
	if err := c.get(ctx, path, &payload); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return payload.Commitment != "", nil
}

// QueryPacketAcknowledgement returns the acknowledgement payload for a
// sequence, or empty when none was written.
func (c *Client) QueryPacketAcknowledgement(ctx context.Context, channelID, portID string, sequence uint64) (string, error) {
	var payload struct {
		Acknowledgement string `json:"acknowledgement"`
	}
	path := fmt.Sprintf("/ibc/core/channel/v1/channels/%s/ports/%s/packet_acks/%d",
		url.PathEscape(channelID), url.PathEscape(portID), sequence)
	if err := c.get(ctx, path, &payload); err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return payload.Acknowledgement, nil
}

// QueryPacketReceipt reports whether the destination recorded a receipt for
// the sequence.
func (c *Client) QueryPacketReceipt(ctx context.Context, channelID, portID string, sequence uint64) (bool, error) {
	var payload struct {
		Received bool `json:"received"`
	}
	path := fmt.Sprintf("/ibc/core/channel/v1/channels/%s/ports/%s/packet_receipts/%d",
		url.PathEscape(channelID), url.PathEscape(portID), sequence)
	if err := c.get(ctx, path, &payload); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return payload.Received, nil
}

// QueryUnreceivedPackets filters the given sequences down to those the
// destination has not received yet.
func (c *Client) QueryUnreceivedPackets(ctx context.Context, channelID, portID string, sequences []uint64) ([]uint64, error) {
	if len(sequences) == 0 {
		return nil, nil
	}
	parts := make([]string, len(sequences))
	for i, seq := range sequences {
		parts[i] = strconv.FormatUint(seq, 10)
	}

	var payload struct {
		Sequences []string `json:"sequences"`
	}
	path := fmt.Sprintf("/ibc/core/channel/v1/channels/%s/ports/%s/packet_commitments/%s/unreceived_packets",
		url.PathEscape(channelID), url.PathEscape(portID), strings.Join(parts, ","))
	if err := c.get(ctx, path, &payload); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]uint64, 0, len(payload.Sequences))
	for _, s := range payload.Sequences {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable sequence %q: %w", s, err)
		}
		out = append(out, seq)
	}
	return out, nil
}

// QueryNextSequenceReceive returns the next sequence the destination will
// accept on an ordered channel.
func (c *Client) QueryNextSequenceReceive(ctx context.Context, channelID, portID string) (uint64, error) {
	var payload struct {
		NextSequenceReceive string `json:"next_sequence_receive"`
	}
	path := fmt.Sprintf("/ibc/core/channel/v1/channels/%s/ports/%s/next_sequence",
		url.PathEscape(channelID), url.PathEscape(portID))
	if err := c.get(ctx, path, &payload); err != nil {
		return 0, err
	}
	seq, err := strconv.ParseUint(payload.NextSequenceReceive, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable next sequence %q: %w", payload.NextSequenceReceive, err)
	}
	return seq, nil
}

// PacketProof is the evidence that a packet is still unreceived, used when
// submitting timeouts.
type PacketProof struct {
	Sequence uint64
	// Ordered proofs carry the next receive sequence; unordered proofs
	// carry the receipt absence.
	Ordered             bool
	NextSequenceReceive uint64
	ReceiptAbsent       bool
}

// GetUnreceivedPacketProof collects the unreceived evidence for a sequence.
// Ordered channels prove via next_sequence_receive, unordered channels via
// the missing packet receipt.
func (c *Client) GetUnreceivedPacketProof(ctx context.Context, channelID, portID string, sequence uint64, isOrdered bool) (*PacketProof, error) {
	proof := &PacketProof{Sequence: sequence, Ordered: isOrdered}

	if isOrdered {
		next, err := c.QueryNextSequenceReceive(ctx, channelID, portID)
		if err != nil {
			return nil, err
		}
		proof.NextSequenceReceive = next
		return proof, nil
	}

	received, err := c.QueryPacketReceipt(ctx, channelID, portID, sequence)
	if err != nil {
		return nil, err
	}
	proof.ReceiptAbsent = !received
	return proof, nil
}

// ReconstructPacket tries to recover the original packet from the remote
// transaction index. When the search fails or returns nothing, a minimal
// synthesized packet carrying just the routing key is returned, flagged by
// an empty DataHex.
func (c *Client) ReconstructPacket(
	ctx context.Context,
	channelID, portID string,
	sequence uint64,
	network models.Network,
) (*models.Packet, error) {
	synthesized := &models.Packet{
		PacketKey: models.PacketKey{
			Sequence:      sequence,
			SourcePort:    portID,
			SourceChannel: channelID,
			Network:       network,
		},
		Status: models.PacketSent,
	}

	query := url.Values{}
	query.Add("events", fmt.Sprintf("send_packet.packet_sequence='%d'", sequence))
	query.Add("events", fmt.Sprintf("send_packet.packet_src_channel='%s'", channelID))

	var payload struct {
		TxResponses []struct {
			Logs []struct {
				Events []models.Event `json:"events"`
			} `json:"logs"`
		} `json:"tx_responses"`
	}
	if err := c.get(ctx, "/cosmos/tx/v1beta1/txs?"+query.Encode(), &payload); err != nil {
		c.log.Debug().Err(err).
			Str("channel", channelID).
			Uint64("sequence", sequence).
			Msg("packet reconstruction query failed, synthesizing")
		return synthesized, nil
	}

	for _, tx := range payload.TxResponses {
		for _, txLog := range tx.Logs {
			for _, event := range txLog.Events {
				if event.Type != models.EventSendPacket {
					continue
				}
				attrs := make(map[string]string, len(event.Attributes))
				for _, attr := range event.Attributes {
					attrs[attr.Key] = attr.Value
				}
				if attrs["packet_src_channel"] != channelID {
					continue
				}
				seq, err := strconv.ParseUint(attrs["packet_sequence"], 10, 64)
				if err != nil || seq != sequence {
					continue
				}
				synthesized.DestinationPort = attrs["packet_dst_port"]
				synthesized.DestinationChannel = attrs["packet_dst_channel"]
				synthesized.DataHex = attrs["packet_data_hex"]
				return synthesized, nil
			}
		}
	}
	return synthesized, nil
}
