package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

// Memory is an in-memory Store used by tests and dry runs. Entities are
// cloned on the way in and out so callers never share memory with the store.
type Memory struct {
	mu sync.RWMutex

	clients     map[string]*models.Client
	connections map[string]*models.Connection
	channels    map[string]*models.Channel
	packets     map[string]*models.Packet
	transfers   map[string]*models.Transfer
	relayers    map[string]*models.Relayer
	metrics     map[string]*models.MetricSample

	// txIndex maps "network/txHash" to packet ids in insertion order; the
	// last entry is the most recent transfer for that hash.
	txIndex map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		clients:     make(map[string]*models.Client),
		connections: make(map[string]*models.Connection),
		channels:    make(map[string]*models.Channel),
		packets:     make(map[string]*models.Packet),
		transfers:   make(map[string]*models.Transfer),
		relayers:    make(map[string]*models.Relayer),
		metrics:     make(map[string]*models.MetricSample),
		txIndex:     make(map[string][]string),
	}
}

func clone[T any](src *T) *T {
	raw, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("store: unclonable entity: %v", err))
	}
	dst := new(T)
	if err := json.Unmarshal(raw, dst); err != nil {
		panic(fmt.Sprintf("store: unclonable entity: %v", err))
	}
	return dst
}

func packetKeyString(key models.PacketKey) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/%s",
		key.SourcePort, key.SourceChannel,
		key.DestinationPort, key.DestinationChannel,
		key.Sequence, key.Network)
}

func (m *Memory) UpsertClient(_ context.Context, client *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ClientID+"/"+string(client.Network)] = clone(client)
	return nil
}

func (m *Memory) GetClient(_ context.Context, clientID string, network models.Network) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[clientID+"/"+string(network)]
	if !ok {
		return nil, fmt.Errorf("client %s on %s: %w", clientID, network, ErrNotFound)
	}
	return clone(client), nil
}

func (m *Memory) UpsertConnection(_ context.Context, conn *models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ConnectionID+"/"+string(conn.Network)] = clone(conn)
	return nil
}

func (m *Memory) GetConnection(_ context.Context, connectionID string, network models.Network) (*models.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[connectionID+"/"+string(network)]
	if !ok {
		return nil, fmt.Errorf("connection %s on %s: %w", connectionID, network, ErrNotFound)
	}
	return clone(conn), nil
}

func (m *Memory) UpsertChannel(_ context.Context, channel *models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.ChannelID+"/"+channel.PortID+"/"+string(channel.Network)] = clone(channel)
	return nil
}

func (m *Memory) GetChannel(_ context.Context, channelID, portID string, network models.Network) (*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[channelID+"/"+portID+"/"+string(network)]
	if !ok {
		return nil, fmt.Errorf("channel %s/%s on %s: %w", channelID, portID, network, ErrNotFound)
	}
	return clone(channel), nil
}

func (m *Memory) ListChannels(_ context.Context, network models.Network) ([]*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Channel, 0)
	for _, channel := range m.channels {
		if channel.Network == network {
			out = append(out, clone(channel))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].PortID < out[j].PortID
	})
	return out, nil
}

func (m *Memory) UpsertPacket(_ context.Context, packet *models.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets[packetKeyString(packet.PacketKey)] = clone(packet)
	return nil
}

func (m *Memory) GetPacket(_ context.Context, key models.PacketKey) (*models.Packet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	packet, ok := m.packets[packetKeyString(key)]
	if !ok {
		return nil, fmt.Errorf("packet %s: %w", packetKeyString(key), ErrNotFound)
	}
	return clone(packet), nil
}

func (m *Memory) UpsertTransfer(_ context.Context, transfer *models.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := transfer.PacketID + "/" + string(transfer.Network)
	_, existed := m.transfers[key]
	m.transfers[key] = clone(transfer)

	if !existed && transfer.TxHash != "" {
		txKey := string(transfer.Network) + "/" + transfer.TxHash
		m.txIndex[txKey] = append(m.txIndex[txKey], transfer.PacketID)
	}
	return nil
}

func (m *Memory) GetTransfer(_ context.Context, packetID string, network models.Network) (*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	transfer, ok := m.transfers[packetID+"/"+string(network)]
	if !ok {
		return nil, fmt.Errorf("transfer %s on %s: %w", packetID, network, ErrNotFound)
	}
	return clone(transfer), nil
}

func (m *Memory) GetTransferByTxHash(_ context.Context, txHash string, network models.Network) (*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.txIndex[string(network)+"/"+txHash]
	if len(ids) == 0 {
		return nil, fmt.Errorf("transfer with tx %s on %s: %w", txHash, network, ErrNotFound)
	}
	latest := ids[len(ids)-1]
	transfer, ok := m.transfers[latest+"/"+string(network)]
	if !ok {
		return nil, fmt.Errorf("transfer %s on %s: %w", latest, network, ErrNotFound)
	}
	return clone(transfer), nil
}

func (m *Memory) ListRecentTransfers(_ context.Context, network models.Network, limit int) ([]*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Transfer, 0)
	for _, transfer := range m.transfers {
		if transfer.Network == network {
			out = append(out, clone(transfer))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SendTime.After(out[j].SendTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertRelayer(_ context.Context, relayer *models.Relayer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayers[relayer.Address+"/"+string(relayer.Network)] = clone(relayer)
	return nil
}

func (m *Memory) GetRelayer(_ context.Context, address string, network models.Network) (*models.Relayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relayer, ok := m.relayers[address+"/"+string(network)]
	if !ok {
		return nil, fmt.Errorf("relayer %s on %s: %w", address, network, ErrNotFound)
	}
	return clone(relayer), nil
}

func (m *Memory) ListRelayers(_ context.Context, network models.Network) ([]*models.Relayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Relayer, 0)
	for _, relayer := range m.relayers {
		if relayer.Network == network {
			out = append(out, clone(relayer))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalPackets > out[j].TotalPackets
	})
	return out, nil
}

func metricKey(metricType models.MetricType, referenceID string, timestamp time.Time, period models.MetricPeriod, network models.Network) string {
	return fmt.Sprintf("%s/%s/%d/%s/%s", metricType, referenceID, timestamp.UTC().Unix(), period, network)
}

func (m *Memory) UpsertMetricSample(_ context.Context, sample *models.MetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(sample.MetricType, sample.ReferenceID, sample.Timestamp, sample.Period, sample.Network)
	m.metrics[key] = clone(sample)
	return nil
}

func (m *Memory) GetMetricSample(
	_ context.Context,
	metricType models.MetricType,
	referenceID string,
	timestamp time.Time,
	period models.MetricPeriod,
	network models.Network,
) (*models.MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sample, ok := m.metrics[metricKey(metricType, referenceID, timestamp, period, network)]
	if !ok {
		return nil, fmt.Errorf("metric %s/%s: %w", metricType, referenceID, ErrNotFound)
	}
	return clone(sample), nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
