// Package store persists indexer entities. Two implementations exist: an
// in-memory store for tests and a SQLite document store for deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

// ErrNotFound is returned by every Get when the entity does not exist.
// Callers distinguish absence from failure with errors.Is.
var ErrNotFound = errors.New("entity not found")

// ClientStore persists IBC light clients.
type ClientStore interface {
	UpsertClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, clientID string, network models.Network) (*models.Client, error)
}

// ConnectionStore persists IBC connections.
type ConnectionStore interface {
	UpsertConnection(ctx context.Context, conn *models.Connection) error
	GetConnection(ctx context.Context, connectionID string, network models.Network) (*models.Connection, error)
}

// ChannelStore persists IBC channels and their analytics rollups.
type ChannelStore interface {
	UpsertChannel(ctx context.Context, channel *models.Channel) error
	GetChannel(ctx context.Context, channelID, portID string, network models.Network) (*models.Channel, error)
	ListChannels(ctx context.Context, network models.Network) ([]*models.Channel, error)
}

// PacketStore persists packets keyed by their natural six-part tuple.
type PacketStore interface {
	UpsertPacket(ctx context.Context, packet *models.Packet) error
	GetPacket(ctx context.Context, key models.PacketKey) (*models.Packet, error)
}

// TransferStore persists transfers keyed by packet id. Lookups by
// transaction hash return the most recently sent transfer for that hash.
type TransferStore interface {
	UpsertTransfer(ctx context.Context, transfer *models.Transfer) error
	GetTransfer(ctx context.Context, packetID string, network models.Network) (*models.Transfer, error)
	GetTransferByTxHash(ctx context.Context, txHash string, network models.Network) (*models.Transfer, error)
	ListRecentTransfers(ctx context.Context, network models.Network, limit int) ([]*models.Transfer, error)
}

// RelayerStore persists relayer aggregates.
type RelayerStore interface {
	UpsertRelayer(ctx context.Context, relayer *models.Relayer) error
	GetRelayer(ctx context.Context, address string, network models.Network) (*models.Relayer, error)
	ListRelayers(ctx context.Context, network models.Network) ([]*models.Relayer, error)
}

// MetricStore persists periodic rollup samples.
type MetricStore interface {
	UpsertMetricSample(ctx context.Context, sample *models.MetricSample) error
	GetMetricSample(
		ctx context.Context,
		metricType models.MetricType,
		referenceID string,
		timestamp time.Time,
		period models.MetricPeriod,
		network models.Network,
	) (*models.MetricSample, error)
}

// Store is the full persistence surface.
type Store interface {
	ClientStore
	ConnectionStore
	ChannelStore
	PacketStore
	TransferStore
	RelayerStore
	MetricStore

	Close() error
}
