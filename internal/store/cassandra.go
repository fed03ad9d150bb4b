package store

import (
	"fmt"
	"net/url"
	"path/filepath"

	"example.com/photofeed/internal/gateway"
	config "example.com/photofeed/internal/init"
	"example.com/photofeed/internal/logger"
	"github.com/gocql/gocql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var logg = logger.New()

// SessionInterface is the part of *gocql.Session the document store uses.
type SessionInterface interface {
	Query(stmt string, values ...interface{}) *gocql.Query
	Close()
}

// Store is a gateway.DocumentStore backed by a single Cassandra table
// partitioned by collection path.
type Store struct {
	Session SessionInterface
}

var _ gateway.DocumentStore = (*Store)(nil)

// New prepares the keyspace, applies pending migrations and opens the
// document session described by the loaded config.
func New() (*Store, error) {
	cfg := config.Get()

	if err := ensureKeyspace(cfg); err != nil {
		return nil, fmt.Errorf("ensure keyspace: %w", err)
	}
	if err := migrateUp(cfg); err != nil {
		return nil, fmt.Errorf("migrate documents schema: %w", err)
	}

	cluster, err := newCluster(cfg, cfg.CassandraKeyspace)
	if err != nil {
		return nil, err
	}
	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create Cassandra session: %w", err)
	}

	logg.Info("store", "Document store connected (host anonymized)")
	return &Store{Session: sess}, nil
}

// newCluster builds the cluster config shared by the bootstrap and the
// document sessions.
func newCluster(cfg *config.Config, keyspace string) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Keyspace = keyspace
	cluster.Timeout = cfg.CassandraTimeout
	cluster.ConnectTimeout = cfg.CassandraTimeout

	cluster.Consistency = gocql.Quorum
	if cfg.CassandraConsistency != "" {
		c, err := gocql.ParseConsistencyWrapper(cfg.CassandraConsistency)
		if err != nil {
			return nil, fmt.Errorf("consistency %q: %w", cfg.CassandraConsistency, err)
		}
		cluster.Consistency = c
	}

	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.CassandraUsername,
			Password: cfg.CassandraPassword,
		}
	}
	if cfg.CassandraDC != "" {
		cluster.HostFilter = gocql.DataCentreHostFilter(cfg.CassandraDC)
	}
	return cluster, nil
}

func keyspaceCQL(keyspace string, replication int) string {
	if replication <= 0 {
		replication = 1
	}
	return fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		keyspace, replication,
	)
}

// ensureKeyspace creates the keyspace through the system keyspace so the
// migration driver has somewhere to connect.
func ensureKeyspace(cfg *config.Config) error {
	cluster, err := newCluster(cfg, "system")
	if err != nil {
		return err
	}
	sess, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("connect to system keyspace: %w", err)
	}
	defer sess.Close()

	if err := sess.Query(keyspaceCQL(cfg.CassandraKeyspace, cfg.CassandraReplication)).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	logg.Info("store", "Keyspace ready (name anonymized)")
	return nil
}

// migrationURLs returns the golang-migrate source and database URLs.
func migrationURLs(cfg *config.Config) (source, database string) {
	dir := cfg.MigrationsDir
	if dir == "" {
		dir = "./migrations/cassandra"
	}
	q := url.Values{}
	q.Set("x-migrations-table", "schema_migrations")
	q.Set("x-multi-statement", "true")
	if cfg.CassandraConsistency != "" {
		q.Set("consistency", cfg.CassandraConsistency)
	}
	database = fmt.Sprintf("cassandra://%s/%s?%s", cfg.CassandraHost, cfg.CassandraKeyspace, q.Encode())
	return "file://" + filepath.ToSlash(filepath.Clean(dir)), database
}

func migrateUp(cfg *config.Config) error {
	source, database := migrationURLs(cfg)
	m, err := migrate.New(source, database)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	switch err := m.Up(); err {
	case nil:
		logg.Info("store", "Documents schema migrated")
	case migrate.ErrNoChange:
		logg.Info("store", "Documents schema up to date")
	default:
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// Close releases the Cassandra session.
func (s *Store) Close() {
	if s.Session == nil {
		return
	}
	s.Session.Close()
	logg.Info("store", "Cassandra session closed")
}
