package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

// SQLite is a document-oriented Store on top of SQLite. Entities are stored
// as JSON documents with their natural keys broken out into indexed columns.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// SQLiteConfig holds database configuration.
type SQLiteConfig struct {
	DataDir string
}

// NewSQLite opens (or creates) the database under cfg.DataDir.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "indexer.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLite{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		client_id TEXT NOT NULL,
		network TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (client_id, network)
	);

	CREATE TABLE IF NOT EXISTS connections (
		connection_id TEXT NOT NULL,
		network TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (connection_id, network)
	);

	CREATE TABLE IF NOT EXISTS channels (
		channel_id TEXT NOT NULL,
		port_id TEXT NOT NULL,
		network TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (channel_id, port_id, network)
	);

	CREATE TABLE IF NOT EXISTS packets (
		sequence INTEGER NOT NULL,
		source_port TEXT NOT NULL,
		source_channel TEXT NOT NULL,
		destination_port TEXT NOT NULL,
		destination_channel TEXT NOT NULL,
		network TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (sequence, source_port, source_channel,
			destination_port, destination_channel, network)
	);

	CREATE TABLE IF NOT EXISTS transfers (
		packet_id TEXT NOT NULL,
		network TEXT NOT NULL,
		tx_hash TEXT,
		send_time INTEGER NOT NULL DEFAULT 0,
		doc TEXT NOT NULL,
		PRIMARY KEY (packet_id, network)
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_tx ON transfers(network, tx_hash);
	CREATE INDEX IF NOT EXISTS idx_transfers_time ON transfers(network, send_time);

	CREATE TABLE IF NOT EXISTS relayers (
		address TEXT NOT NULL,
		network TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (address, network)
	);

	CREATE TABLE IF NOT EXISTS metric_samples (
		metric_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		period TEXT NOT NULL,
		network TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (metric_type, reference_id, timestamp, period, network)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func marshalDoc(entity any) (string, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return "", fmt.Errorf("failed to encode entity: %w", err)
	}
	return string(raw), nil
}

func scanDoc[T any](row *sql.Row, what string) (*T, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load %s: %w", what, err)
	}
	entity := new(T)
	if err := json.Unmarshal([]byte(doc), entity); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return entity, nil
}

func (s *SQLite) UpsertClient(ctx context.Context, client *models.Client) error {
	doc, err := marshalDoc(client)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (client_id, network, doc) VALUES (?, ?, ?)
		ON CONFLICT (client_id, network) DO UPDATE SET doc = excluded.doc`,
		client.ClientID, client.Network, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert client %s: %w", client.ClientID, err)
	}
	return nil
}

func (s *SQLite) GetClient(ctx context.Context, clientID string, network models.Network) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM clients WHERE client_id = ? AND network = ?`, clientID, network)
	return scanDoc[models.Client](row, fmt.Sprintf("client %s on %s", clientID, network))
}

func (s *SQLite) UpsertConnection(ctx context.Context, conn *models.Connection) error {
	doc, err := marshalDoc(conn)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (connection_id, network, doc) VALUES (?, ?, ?)
		ON CONFLICT (connection_id, network) DO UPDATE SET doc = excluded.doc`,
		conn.ConnectionID, conn.Network, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert connection %s: %w", conn.ConnectionID, err)
	}
	return nil
}

func (s *SQLite) GetConnection(ctx context.Context, connectionID string, network models.Network) (*models.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM connections WHERE connection_id = ? AND network = ?`, connectionID, network)
	return scanDoc[models.Connection](row, fmt.Sprintf("connection %s on %s", connectionID, network))
}

func (s *SQLite) UpsertChannel(ctx context.Context, channel *models.Channel) error {
	doc, err := marshalDoc(channel)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channels (channel_id, port_id, network, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id, port_id, network) DO UPDATE SET doc = excluded.doc`,
		channel.ChannelID, channel.PortID, channel.Network, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert channel %s/%s: %w", channel.ChannelID, channel.PortID, err)
	}
	return nil
}

func (s *SQLite) GetChannel(ctx context.Context, channelID, portID string, network models.Network) (*models.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM channels WHERE channel_id = ? AND port_id = ? AND network = ?`,
		channelID, portID, network)
	return scanDoc[models.Channel](row, fmt.Sprintf("channel %s/%s on %s", channelID, portID, network))
}

func (s *SQLite) ListChannels(ctx context.Context, network models.Network) ([]*models.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM channels WHERE network = ? ORDER BY channel_id, port_id`, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Channel, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channel := new(models.Channel)
		if err := json.Unmarshal([]byte(doc), channel); err != nil {
			return nil, fmt.Errorf("failed to decode channel: %w", err)
		}
		out = append(out, channel)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertPacket(ctx context.Context, packet *models.Packet) error {
	doc, err := marshalDoc(packet)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO packets (sequence, source_port, source_channel,
			destination_port, destination_channel, network, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sequence, source_port, source_channel,
			destination_port, destination_channel, network)
		DO UPDATE SET doc = excluded.doc`,
		packet.Sequence, packet.SourcePort, packet.SourceChannel,
		packet.DestinationPort, packet.DestinationChannel, packet.Network, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert packet seq %d: %w", packet.Sequence, err)
	}
	return nil
}

func (s *SQLite) GetPacket(ctx context.Context, key models.PacketKey) (*models.Packet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc FROM packets
		WHERE sequence = ? AND source_port = ? AND source_channel = ?
			AND destination_port = ? AND destination_channel = ? AND network = ?`,
		key.Sequence, key.SourcePort, key.SourceChannel,
		key.DestinationPort, key.DestinationChannel, key.Network)
	return scanDoc[models.Packet](row, fmt.Sprintf("packet %s/%s seq %d", key.SourcePort, key.SourceChannel, key.Sequence))
}

func (s *SQLite) UpsertTransfer(ctx context.Context, transfer *models.Transfer) error {
	doc, err := marshalDoc(transfer)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transfers (packet_id, network, tx_hash, send_time, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (packet_id, network) DO UPDATE SET
			tx_hash = excluded.tx_hash,
			send_time = excluded.send_time,
			doc = excluded.doc`,
		transfer.PacketID, transfer.Network, transfer.TxHash,
		transfer.SendTime.UTC().UnixMilli(), doc)
	if err != nil {
		return fmt.Errorf("failed to upsert transfer %s: %w", transfer.PacketID, err)
	}
	return nil
}

func (s *SQLite) GetTransfer(ctx context.Context, packetID string, network models.Network) (*models.Transfer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM transfers WHERE packet_id = ? AND network = ?`, packetID, network)
	return scanDoc[models.Transfer](row, fmt.Sprintf("transfer %s on %s", packetID, network))
}

func (s *SQLite) GetTransferByTxHash(ctx context.Context, txHash string, network models.Network) (*models.Transfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc FROM transfers WHERE tx_hash = ? AND network = ?
		ORDER BY send_time DESC, rowid DESC LIMIT 1`, txHash, network)
	return scanDoc[models.Transfer](row, fmt.Sprintf("transfer with tx %s on %s", txHash, network))
}

func (s *SQLite) ListRecentTransfers(ctx context.Context, network models.Network, limit int) ([]*models.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM transfers WHERE network = ?
		ORDER BY send_time DESC LIMIT ?`, network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Transfer, 0, limit)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfer := new(models.Transfer)
		if err := json.Unmarshal([]byte(doc), transfer); err != nil {
			return nil, fmt.Errorf("failed to decode transfer: %w", err)
		}
		out = append(out, transfer)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertRelayer(ctx context.Context, relayer *models.Relayer) error {
	doc, err := marshalDoc(relayer)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relayers (address, network, doc) VALUES (?, ?, ?)
		ON CONFLICT (address, network) DO UPDATE SET doc = excluded.doc`,
		relayer.Address, relayer.Network, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert relayer %s: %w", relayer.Address, err)
	}
	return nil
}

func (s *SQLite) GetRelayer(ctx context.Context, address string, network models.Network) (*models.Relayer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM relayers WHERE address = ? AND network = ?`, address, network)
	return scanDoc[models.Relayer](row, fmt.Sprintf("relayer %s on %s", address, network))
}

func (s *SQLite) ListRelayers(ctx context.Context, network models.Network) ([]*models.Relayer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM relayers WHERE network = ?`, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list relayers: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Relayer, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan relayer: %w", err)
		}
		relayer := new(models.Relayer)
		if err := json.Unmarshal([]byte(doc), relayer); err != nil {
			return nil, fmt.Errorf("failed to decode relayer: %w", err)
		}
		out = append(out, relayer)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertMetricSample(ctx context.Context, sample *models.MetricSample) error {
	doc, err := marshalDoc(sample)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metric_samples (metric_type, reference_id, timestamp, period, network, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (metric_type, reference_id, timestamp, period, network)
		DO UPDATE SET doc = excluded.doc`,
		sample.MetricType, sample.ReferenceID, sample.Timestamp.UTC().Unix(),
		sample.Period, sample.Network, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert metric %s/%s: %w", sample.MetricType, sample.ReferenceID, err)
	}
	return nil
}

func (s *SQLite) GetMetricSample(
	ctx context.Context,
	metricType models.MetricType,
	referenceID string,
	timestamp time.Time,
	period models.MetricPeriod,
	network models.Network,
) (*models.MetricSample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc FROM metric_samples
		WHERE metric_type = ? AND reference_id = ? AND timestamp = ? AND period = ? AND network = ?`,
		metricType, referenceID, timestamp.UTC().Unix(), period, network)
	return scanDoc[models.MetricSample](row, fmt.Sprintf("metric %s/%s", metricType, referenceID))
}

var _ Store = (*SQLite)(nil)
