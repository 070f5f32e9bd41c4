package models

import "time"

// Recognized event types emitted by the IBC core and transfer modules.
const (
	EventSendPacket           = "send_packet"
	EventRecvPacket           = "recv_packet"
	EventAcknowledgePacket    = "acknowledge_packet"
	EventTimeoutPacket        = "timeout_packet"
	EventWriteAcknowledgement = "write_acknowledgement"
	EventFungibleTokenPacket  = "fungible_token_packet"
	EventTransferPacket       = "transfer_packet"

	EventCreateClient = "create_client"
	EventUpdateClient = "update_client"

	EventConnectionOpenInit    = "connection_open_init"
	EventConnectionOpenTry     = "connection_open_try"
	EventConnectionOpenAck     = "connection_open_ack"
	EventConnectionOpenConfirm = "connection_open_confirm"

	EventChannelOpenInit     = "channel_open_init"
	EventChannelOpenTry      = "channel_open_try"
	EventChannelOpenAck      = "channel_open_ack"
	EventChannelOpenConfirm  = "channel_open_confirm"
	EventChannelCloseInit    = "channel_close_init"
	EventChannelCloseConfirm = "channel_close_confirm"
)

// Attribute is a single key/value pair attached to an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is the raw shape handed over by the block ingestion layer.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// EventContext carries the transaction-level facts that accompany an event.
type EventContext struct {
	TxHash    string    `json:"tx_hash"`
	Height    int64     `json:"height"`
	BlockTime time.Time `json:"block_timestamp"`
	Network   Network   `json:"network"`
}

// TransferPacketData is the normalized payload of a fungible token packet.
type TransferPacketData struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Denom    string `json:"denom"`
	Amount   string `json:"amount"`
	Memo     string `json:"memo,omitempty"`
}
