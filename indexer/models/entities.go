package models

import "time"

// Network identifies which deployment of the local chain an entity belongs to.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// ConnectionState follows the IBC connection handshake.
type ConnectionState string

const (
	ConnectionInit    ConnectionState = "INIT"
	ConnectionTryOpen ConnectionState = "TRYOPEN"
	ConnectionOpen    ConnectionState = "OPEN"
)

// ChannelState follows the IBC channel handshake.
type ChannelState string

const (
	ChannelInit    ChannelState = "INIT"
	ChannelTryOpen ChannelState = "TRYOPEN"
	ChannelOpen    ChannelState = "OPEN"
	ChannelClosed  ChannelState = "CLOSED"
)

// ChannelOrdering is the IBC channel ordering discipline.
type ChannelOrdering string

const (
	OrderingOrdered   ChannelOrdering = "ORDERED"
	OrderingUnordered ChannelOrdering = "UNORDERED"
)

// PacketStatus tracks the packet lifecycle as observed on the local chain.
// SENT may progress to ACKNOWLEDGED or TIMEOUT; RECEIVED is the destination
// side view and can coexist with the source view of the same packet.
type PacketStatus string

const (
	PacketSent         PacketStatus = "SENT"
	PacketReceived     PacketStatus = "RECEIVED"
	PacketAcknowledged PacketStatus = "ACKNOWLEDGED"
	PacketTimeout      PacketStatus = "TIMEOUT"
)

// TransferStatus is the user-facing state of a token transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferReceived  TransferStatus = "RECEIVED"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferFailed    TransferStatus = "FAILED"
	TransferTimeout   TransferStatus = "TIMEOUT"
)

// Client is a light client of a counterparty chain tracked on the local
// chain. Unique on (ClientID, Network). Created on create_client and mutated
// by client updates, never destroyed.
type Client struct {
	ClientID        string    `json:"client_id"`
	Network         Network   `json:"network"`
	ClientType      string    `json:"client_type"`
	ChainID         string    `json:"chain_id"`
	LatestHeight    int64     `json:"latest_height"`
	Frozen          bool      `json:"frozen"`
	ConnectionCount int64     `json:"connection_count"`
	LastUpdate      time.Time `json:"last_update"`
}

// Connection references exactly one Client. Unique on (ConnectionID, Network).
type Connection struct {
	ConnectionID             string          `json:"connection_id"`
	Network                  Network         `json:"network"`
	ClientID                 string          `json:"client_id"`
	CounterpartyConnectionID string          `json:"counterparty_connection_id"`
	CounterpartyClientID     string          `json:"counterparty_client_id"`
	CounterpartyChainID      string          `json:"counterparty_chain_id"`
	State                    ConnectionState `json:"state"`
	DelayPeriod              uint64          `json:"delay_period"`
	ChannelCount             int64           `json:"channel_count"`
	LastActivity             time.Time       `json:"last_activity"`
}

// Channel references exactly one Connection. Unique on
// (ChannelID, PortID, Network). Carries the per-channel analytics rollups.
type Channel struct {
	ChannelID             string          `json:"channel_id"`
	PortID                string          `json:"port_id"`
	Network               Network         `json:"network"`
	ConnectionID          string          `json:"connection_id"`
	CounterpartyChannelID string          `json:"counterparty_channel_id"`
	CounterpartyPortID    string          `json:"counterparty_port_id"`
	State                 ChannelState    `json:"state"`
	Ordering              ChannelOrdering `json:"ordering"`
	Version               string          `json:"version"`

	// Analytics rollups, maintained by the event processor.
	PacketCount            int64             `json:"packet_count"`
	SuccessCount           int64             `json:"success_count"`
	FailureCount           int64             `json:"failure_count"`
	TimeoutCount           int64             `json:"timeout_count"`
	AvgCompletionTimeMs    float64           `json:"avg_completion_time_ms"`
	TotalTokensTransferred map[string]string `json:"total_tokens_transferred"`
	ActiveRelayers         []string          `json:"active_relayers"`
}

// TimeoutHeight is the IBC revision-scoped height after which a packet
// can no longer be received.
type TimeoutHeight struct {
	RevisionNumber uint64 `json:"revision_number"`
	RevisionHeight uint64 `json:"revision_height"`
}

// PacketKey is the natural uniqueness tuple of a Packet. Any reingest of the
// same tuple must upsert, never duplicate.
type PacketKey struct {
	Sequence           uint64  `json:"sequence"`
	SourcePort         string  `json:"source_port"`
	SourceChannel      string  `json:"source_channel"`
	DestinationPort    string  `json:"destination_port"`
	DestinationChannel string  `json:"destination_channel"`
	Network            Network `json:"network"`
}

// Packet is a single IBC packet with its observed lifecycle checkpoints.
type Packet struct {
	PacketKey

	DataHex          string        `json:"data_hex"`
	TimeoutHeight    TimeoutHeight `json:"timeout_height"`
	TimeoutTimestamp uint64        `json:"timeout_timestamp"`
	Status           PacketStatus  `json:"status"`

	SendTxHash    string     `json:"send_tx_hash,omitempty"`
	SendTime      *time.Time `json:"send_time,omitempty"`
	ReceiveTxHash string     `json:"receive_tx_hash,omitempty"`
	ReceiveTime   *time.Time `json:"receive_time,omitempty"`
	AckTxHash     string     `json:"ack_tx_hash,omitempty"`
	AckTime       *time.Time `json:"ack_time,omitempty"`
	TimeoutTxHash string     `json:"timeout_tx_hash,omitempty"`
	TimeoutTime   *time.Time `json:"timeout_time,omitempty"`

	RelayerAddress string `json:"relayer_address,omitempty"`
	// CompletionTimeMs is set only when both the send timestamp and a
	// terminating timestamp are known.
	CompletionTimeMs *int64 `json:"completion_time_ms,omitempty"`

	SourceChainID      string `json:"source_chain_id,omitempty"`
	DestinationChainID string `json:"destination_chain_id,omitempty"`
}

// Transfer is the fungible-token view of a packet, 1:1 by PacketID.
type Transfer struct {
	PacketID string         `json:"packet_id"`
	Network  Network        `json:"network"`
	Status   TransferStatus `json:"status"`

	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	// Amount is in base units, kept as a string to preserve big integers.
	Amount  string `json:"amount"`
	Denom   string `json:"denom"`
	Memo    string `json:"memo,omitempty"`
	Success bool   `json:"success"`

	TokenSymbol        string `json:"token_symbol,omitempty"`
	TokenDisplayAmount string `json:"token_display_amount,omitempty"`

	SourceChainID        string `json:"source_chain_id"`
	SourceChainName      string `json:"source_chain_name"`
	DestinationChainID   string `json:"destination_chain_id"`
	DestinationChainName string `json:"destination_chain_name"`
	SourceChannelID      string `json:"source_channel_id"`
	DestinationChannelID string `json:"destination_channel_id"`

	SendTime     time.Time  `json:"send_time"`
	CompleteTime *time.Time `json:"complete_time,omitempty"`
	TxHash       string     `json:"tx_hash"`

	CompletionTxHash    string     `json:"completion_tx_hash,omitempty"`
	CompletionHeight    int64      `json:"completion_height,omitempty"`
	CompletionTimestamp *time.Time `json:"completion_timestamp,omitempty"`
	TimeoutTxHash       string     `json:"timeout_tx_hash,omitempty"`
	TimeoutHeight       int64      `json:"timeout_height,omitempty"`
	TimeoutTimestamp    *time.Time `json:"timeout_timestamp,omitempty"`

	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RelayerChannelStats is a per-channel record inside a Relayer.
type RelayerChannelStats struct {
	ChannelID      string            `json:"channel_id"`
	PacketCount    int64             `json:"packet_count"`
	VolumesByDenom map[string]string `json:"volumes_by_denom"`
}

// Relayer aggregates the performance of one relayer address.
// Unique on (Address, Network). Volume maps hold base-unit amounts as
// decimal strings, keyed by chain id and/or denom.
type Relayer struct {
	Address string  `json:"address"`
	Network Network `json:"network"`

	TotalPackets      int64   `json:"total_packets"`
	SuccessfulPackets int64   `json:"successful_packets"`
	FailedPackets     int64   `json:"failed_packets"`
	AvgRelayTimeMs    float64 `json:"avg_relay_time_ms"`

	VolumesByChain map[string]map[string]string    `json:"volumes_by_chain"`
	VolumesByDenom map[string]string               `json:"volumes_by_denom"`
	Channels       map[string]*RelayerChannelStats `json:"channels"`
	ChainsServed   []string                        `json:"chains_served"`
}

// MetricType scopes a MetricSample to the entity it rolls up.
type MetricType string

const (
	MetricChannel MetricType = "channel"
	MetricRelayer MetricType = "relayer"
	MetricChain   MetricType = "chain"
)

// MetricPeriod is the bucketing period of a MetricSample.
type MetricPeriod string

const (
	PeriodHourly MetricPeriod = "hourly"
	PeriodDaily  MetricPeriod = "daily"
	PeriodWeekly MetricPeriod = "weekly"
)

// DenomAmount is a single denom volume entry in a metric sample.
type DenomAmount struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// MetricSample is a periodic rollup, unique on
// (MetricType, ReferenceID, Timestamp, Period, Network).
type MetricSample struct {
	MetricType  MetricType   `json:"metric_type"`
	ReferenceID string       `json:"reference_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Period      MetricPeriod `json:"period"`
	Network     Network      `json:"network"`

	PacketCount         int64         `json:"packet_count"`
	SuccessCount        int64         `json:"success_count"`
	FailureCount        int64         `json:"failure_count"`
	TimeoutCount        int64         `json:"timeout_count"`
	AvgCompletionTimeMs float64       `json:"avg_completion_time_ms"`
	Volumes             []DenomAmount `json:"volumes"`
}
