package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// App mode & server
	Mode       string
	ServerAddr string
	TLSCert    string
	TLSKey     string
	JWTSecret  string

	// Kafka
	KafkaBroker    string
	KafkaTopic     string
	KafkaGroupID   string
	KafkaPartition int
	KafkaReadTO    time.Duration
	KafkaWriteTO   time.Duration

	// Cassandra
	CassandraHost        string
	CassandraKeyspace    string
	CassandraUsername    string
	CassandraPassword    string
	CassandraTimeout     time.Duration
	CassandraDC          string
	CassandraConsistency string // gocql level name, e.g. QUORUM or LOCAL_ONE
	CassandraReplication int
	MigrationsDir        string

	// S3
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PublicBaseURL string
	S3PresignTTL    time.Duration

	// Redis
	RedisAddr          string
	RedisPassword      string
	ProfileURLCacheTTL time.Duration

	// Feed
	FeedFanout      int
	FeedSessionMax  int
	FeedSessionIdle time.Duration
}

var cfg *Config

// Init loads the config using Viper and returns it
func Init() *Config {
	viper.SetDefault("MODE", "server")
	viper.SetDefault("SERVER_ADDR", ":8080")
	viper.SetDefault("TLS_CERT", "/certs/cert.pem")
	viper.SetDefault("TLS_KEY", "/certs/key.pem")

	viper.SetDefault("KAFKA_BROKER", "localhost:29092")
	viper.SetDefault("KAFKA_TOPIC", "interaction-events")
	viper.SetDefault("KAFKA_GROUP_ID", "notification-workers")
	viper.SetDefault("KAFKA_PARTITION", 0)
	viper.SetDefault("KAFKA_READ_TIMEOUT", "10s")
	viper.SetDefault("KAFKA_WRITE_TIMEOUT", "10s")

	viper.SetDefault("CASSANDRA_HOST", "localhost")
	viper.SetDefault("CASSANDRA_KEYSPACE", "photofeed")
	viper.SetDefault("CASSANDRA_TIMEOUT", "10s")
	viper.SetDefault("CASSANDRA_CONSISTENCY", "QUORUM")
	viper.SetDefault("CASSANDRA_REPLICATION", 1)
	viper.SetDefault("MIGRATIONS_DIR", "./migrations/cassandra")
	// Optional: Cassandra username/password/DC can be empty

	viper.SetDefault("S3_BUCKET", "photofeed-media")
	viper.SetDefault("S3_REGION", "us-west-1")
	viper.SetDefault("S3_PRESIGN_TTL", "1h")
	// Optional: S3_ENDPOINT (minio etc.) and S3_PUBLIC_BASE_URL

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("PROFILE_URL_CACHE_TTL", "10m")

	viper.SetDefault("FEED_FANOUT", 16)
	viper.SetDefault("FEED_SESSION_MAX", 10000)
	viper.SetDefault("FEED_SESSION_IDLE", "30m")

	// Load env variables
	viper.AutomaticEnv()

	// Optional config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	_ = viper.ReadInConfig() // ignore error if no file

	cfg = &Config{
		Mode:                 viper.GetString("MODE"),
		ServerAddr:           viper.GetString("SERVER_ADDR"),
		TLSCert:              viper.GetString("TLS_CERT"),
		TLSKey:               viper.GetString("TLS_KEY"),
		JWTSecret:            viper.GetString("JWT_SECRET"),
		KafkaBroker:          viper.GetString("KAFKA_BROKER"),
		KafkaTopic:           viper.GetString("KAFKA_TOPIC"),
		KafkaGroupID:         viper.GetString("KAFKA_GROUP_ID"),
		KafkaPartition:       viper.GetInt("KAFKA_PARTITION"),
		KafkaReadTO:          parseDuration(viper.GetString("KAFKA_READ_TIMEOUT"), 10*time.Second),
		KafkaWriteTO:         parseDuration(viper.GetString("KAFKA_WRITE_TIMEOUT"), 10*time.Second),
		CassandraHost:        viper.GetString("CASSANDRA_HOST"),
		CassandraKeyspace:    viper.GetString("CASSANDRA_KEYSPACE"),
		CassandraUsername:    viper.GetString("CASSANDRA_USERNAME"),
		CassandraPassword:    viper.GetString("CASSANDRA_PASSWORD"),
		CassandraTimeout:     parseDuration(viper.GetString("CASSANDRA_TIMEOUT"), 10*time.Second),
		CassandraDC:          viper.GetString("CASSANDRA_DC"),
		CassandraConsistency: viper.GetString("CASSANDRA_CONSISTENCY"),
		CassandraReplication: viper.GetInt("CASSANDRA_REPLICATION"),
		MigrationsDir:        viper.GetString("MIGRATIONS_DIR"),
		S3Bucket:             viper.GetString("S3_BUCKET"),
		S3Region:             viper.GetString("S3_REGION"),
		S3Endpoint:           viper.GetString("S3_ENDPOINT"),
		S3PublicBaseURL:      viper.GetString("S3_PUBLIC_BASE_URL"),
		S3PresignTTL:         parseDuration(viper.GetString("S3_PRESIGN_TTL"), time.Hour),
		RedisAddr:            viper.GetString("REDIS_ADDR"),
		RedisPassword:        viper.GetString("REDIS_PASSWORD"),
		ProfileURLCacheTTL:   parseDuration(viper.GetString("PROFILE_URL_CACHE_TTL"), 10*time.Minute),
		FeedFanout:           viper.GetInt("FEED_FANOUT"),
		FeedSessionMax:       viper.GetInt("FEED_SESSION_MAX"),
		FeedSessionIdle:      parseDuration(viper.GetString("FEED_SESSION_IDLE"), 30*time.Minute),
	}

	return cfg
}

// Validate checks settings that only make sense together. In presigned mode
// (no S3_PUBLIC_BASE_URL) a cached profile URL must expire before its
// signature does.
func (c *Config) Validate() error {
	if c.S3PublicBaseURL == "" && c.ProfileURLCacheTTL >= c.S3PresignTTL {
		return fmt.Errorf("PROFILE_URL_CACHE_TTL (%s) must be below S3_PRESIGN_TTL (%s)", c.ProfileURLCacheTTL, c.S3PresignTTL)
	}
	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// Get returns the loaded config instance
func Get() *Config {
	return cfg
}
