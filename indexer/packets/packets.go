// Package packets derives stable packet identities from raw IBC events and
// correlates events inside a transaction.
package packets

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

const packetIDLength = 24

// Info is a packet identity extracted from event attributes.
type Info struct {
	models.PacketKey
	PacketID string
}

// FlattenAttributes collapses an event's attribute list to a map. When a key
// repeats, the last occurrence wins.
func FlattenAttributes(event models.Event) map[string]string {
	out := make(map[string]string, len(event.Attributes))
	for _, attr := range event.Attributes {
		out[attr.Key] = attr.Value
	}
	return out
}

// CreatePacketID synthesizes the stable id of a packet: the first 24 hex
// characters of MD5("port/channel/sequence").
func CreatePacketID(port, channel string, sequence uint64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s/%s/%d", port, channel, sequence)))
	return hex.EncodeToString(sum[:])[:packetIDLength]
}

// FallbackPacketID is the weaker id used when a cryptographic hash is not
// available: a 32-bit polynomial rolling hash of the same string, written
// hex and right-padded with zeros to 24 characters.
func FallbackPacketID(port, channel string, sequence uint64) string {
	input := fmt.Sprintf("%s/%s/%d", port, channel, sequence)
	var h uint32
	for _, c := range []byte(input) {
		h = (h << 5) - h + uint32(c)
	}
	id := strconv.FormatUint(uint64(h), 16)
	for len(id) < packetIDLength {
		id += "0"
	}
	return id
}

// firstOf returns the first non-empty attribute among the given keys.
func firstOf(attrs map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := attrs[key]; v != "" {
			return v
		}
	}
	return ""
}

// transferModuleEvent reports whether the event is emitted by the transfer
// module rather than IBC core. Those events may lack routing attributes.
func transferModuleEvent(eventType string) bool {
	return eventType == models.EventFungibleTokenPacket || eventType == models.EventTransferPacket
}

// ExtractPacketInfo reconciles the attribute spellings used by different
// chain versions into one packet identity. Transfer module events missing a
// sequence fall back to msg_index and default both ports to "transfer".
// Returns nil when required fields cannot be recovered.
func ExtractPacketInfo(eventType string, attrs map[string]string, network models.Network) *Info {
	srcPort := firstOf(attrs, "packet_src_port", "source_port")
	srcChannel := firstOf(attrs, "packet_src_channel", "source_channel")
	seqStr := firstOf(attrs, "packet_sequence", "sequence")
	dstPort := firstOf(attrs, "packet_dst_port", "destination_port")
	dstChannel := firstOf(attrs, "packet_dst_channel", "destination_channel")

	if transferModuleEvent(eventType) {
		if seqStr == "" {
			seqStr = attrs["msg_index"]
		}
		if srcPort == "" {
			srcPort = "transfer"
		}
		if dstPort == "" {
			dstPort = "transfer"
		}
	}

	if srcPort == "" || srcChannel == "" || seqStr == "" || dstPort == "" || dstChannel == "" {
		return nil
	}
	sequence, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return nil
	}

	return &Info{
		PacketKey: models.PacketKey{
			Sequence:           sequence,
			SourcePort:         srcPort,
			SourceChannel:      srcChannel,
			DestinationPort:    dstPort,
			DestinationChannel: dstChannel,
			Network:            network,
		},
		PacketID: CreatePacketID(srcPort, srcChannel, sequence),
	}
}

const (
	txContextCap     = 1000
	txContextEvictBy = 500
)

type txEntry struct {
	Info      *Info
	EventType string
}

// TxContext retains the most recent packet identity per transaction so a
// later fungible_token_packet without routing attributes can inherit it.
// The map is bounded: past 1000 entries the oldest 500 are dropped in
// insertion order.
type TxContext struct {
	mu      sync.Mutex
	entries map[string]txEntry
	order   []string
}

// NewTxContext creates an empty transaction context map.
func NewTxContext() *TxContext {
	return &TxContext{entries: make(map[string]txEntry)}
}

// Record stores the packet identity for a transaction, replacing any earlier
// one. Replacement does not refresh the eviction position.
func (c *TxContext) Record(txHash string, info *Info, eventType string) {
	if txHash == "" || info == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[txHash]; !exists {
		c.order = append(c.order, txHash)
	}
	c.entries[txHash] = txEntry{Info: info, EventType: eventType}

	if len(c.entries) > txContextCap {
		evict := c.order[:txContextEvictBy]
		c.order = c.order[txContextEvictBy:]
		for _, hash := range evict {
			delete(c.entries, hash)
		}
	}
}

// Lookup returns the recorded packet identity for a transaction.
func (c *TxContext) Lookup(txHash string) (*Info, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[txHash]
	if !ok {
		return nil, "", false
	}
	return entry.Info, entry.EventType, true
}

// Len returns the number of retained transactions.
func (c *TxContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Identity resolves packet identities event by event, using the transaction
// context for transfer module events that arrive without routing attributes.
type Identity struct {
	txCtx *TxContext
	log   zerolog.Logger
}

// NewIdentity creates the packet identity service.
func NewIdentity(log zerolog.Logger) *Identity {
	return &Identity{txCtx: NewTxContext(), log: log}
}

// TxContext exposes the underlying transaction context map.
func (s *Identity) TxContext() *TxContext { return s.txCtx }

// HandlePacketEvent extracts a packet identity for lifecycle events and
// records it against the transaction. fungible_token_packet events missing
// attributes inherit the identity of the earlier send/recv in the same
// transaction. Events that carry no packet identity return nil.
func (s *Identity) HandlePacketEvent(event models.Event, evCtx models.EventContext) *Info {
	attrs := FlattenAttributes(event)

	switch event.Type {
	case models.EventSendPacket, models.EventRecvPacket,
		models.EventAcknowledgePacket, models.EventTimeoutPacket:
		info := ExtractPacketInfo(event.Type, attrs, evCtx.Network)
		if info == nil {
			s.log.Warn().
				Str("event", event.Type).
				Str("tx", evCtx.TxHash).
				Msg("packet event missing identity attributes")
			return nil
		}
		s.txCtx.Record(evCtx.TxHash, info, event.Type)
		return info

	case models.EventFungibleTokenPacket:
		if info := ExtractPacketInfo(event.Type, attrs, evCtx.Network); info != nil {
			return info
		}
		if info, _, ok := s.txCtx.Lookup(evCtx.TxHash); ok {
			return info
		}
		return nil

	default:
		return nil
	}
}
