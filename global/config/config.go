package config

import (
	"time"

	"PTracker/data/database/mgo/mongoutil"
	"PTracker/service/kafka"
	"PTracker/service/natsx"
	"PTracker/service/positioning"
	"PTracker/service/storage/redis"
	"PTracker/tools/security"
)

// Config is the root application configuration.
type Config struct {
	// NodeID selects the snowflake node bits of operation ids (0~1023).
	NodeID       int64              `yaml:"node_id" env:"NODE_ID" env-default:"1" validate:"gte=0,lte=1023"`
	Log          LogConfig          `yaml:"log"`
	Identity     IdentityConfig     `yaml:"identity"`
	HTTP         HTTPConfig         `yaml:"http"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Remote       RemoteConfig       `yaml:"remote"`
	Mongo        MongoConfig        `yaml:"mongo"`
	Nats         NatsConfig         `yaml:"nats"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Positioning  PositioningConfig  `yaml:"positioning"`
	Sync         SyncConfig         `yaml:"sync"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console" validate:"oneof=console json"`
}

// IdentityConfig selects where the signed-in user comes from. Tokens are
// issued elsewhere; in jwt mode the HTTP layer only verifies them.
type IdentityConfig struct {
	Mode   string        `yaml:"mode"    env:"IDENTITY_MODE"    env-default:"static" validate:"oneof=static jwt"`
	UserID string        `yaml:"user_id" env:"IDENTITY_USER_ID"`
	Secret string        `yaml:"secret"  env:"IDENTITY_SECRET"`
	Token  string        `yaml:"token"   env:"IDENTITY_TOKEN"`
	Alg    string        `yaml:"alg"     env:"IDENTITY_ALG"     env-default:"HS256" validate:"oneof=HS256 HS384 HS512"`
	Leeway time.Duration `yaml:"leeway"  env:"IDENTITY_LEEWAY"  env-default:"30s"`
}

func (c IdentityConfig) SecurityOptions() security.Options {
	return security.Options{Secret: []byte(c.Secret), Alg: c.Alg, Leeway: c.Leeway}
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"            env:"HTTP_ADDR"            env-default:":8080" validate:"required"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-default:"*"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"  env:"HTTP_SHUTDOWN_GRACE"  env-default:"5s"`
	EventBuffer    int           `yaml:"event_buffer"    env:"HTTP_EVENT_BUFFER"    env-default:"64" validate:"gt=0"`
}

// StorageConfig picks the durable KV behind the cache and the queue.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"memory" validate:"oneof=memory redis postgres"`
	Prefix  string `yaml:"prefix"  env:"STORAGE_PREFIX"  env-default:"ptracker:"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"         env:"REDIS_ADDR"         env-default:"127.0.0.1:6379"`
	Password    string        `yaml:"password"     env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db"           env:"REDIS_DB"           env-default:"0"`
	PoolSize    int           `yaml:"pool_size"    env:"REDIS_POOL_SIZE"    env-default:"10"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"3s"`
}

func (c RedisConfig) Client() redis.Config {
	return redis.Config{Addr: c.Addr, Password: c.Password, DB: c.DB, PoolSize: c.PoolSize, DialTimeout: c.DialTimeout}
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
}

// RemoteConfig picks the remote document store.
type RemoteConfig struct {
	Backend string `yaml:"backend" env:"REMOTE_BACKEND" env-default:"memory" validate:"oneof=memory mongo"`
}

type MongoConfig struct {
	URI                    string        `yaml:"uri"                      env:"MONGO_URI"`
	Address                []string      `yaml:"address"                  env:"MONGO_ADDRESS"`
	Database               string        `yaml:"database"                 env:"MONGO_DATABASE"                 env-default:"ptracker"`
	Username               string        `yaml:"username"                 env:"MONGO_USERNAME"`
	Password               string        `yaml:"password"                 env:"MONGO_PASSWORD"`
	AuthSource             string        `yaml:"auth_source"              env:"MONGO_AUTH_SOURCE"`
	MaxPoolSize            int           `yaml:"max_pool_size"            env:"MONGO_MAX_POOL_SIZE"            env-default:"20"`
	MaxRetry               int           `yaml:"max_retry"                env:"MONGO_MAX_RETRY"                env-default:"3"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout" env:"MONGO_SERVER_SELECTION_TIMEOUT" env-default:"3s"`
}

func (c MongoConfig) Util() *mongoutil.Config {
	return &mongoutil.Config{
		Uri:                    c.URI,
		Address:                c.Address,
		Database:               c.Database,
		Username:               c.Username,
		Password:               c.Password,
		AuthSource:             c.AuthSource,
		MaxPoolSize:            c.MaxPoolSize,
		MaxRetry:               c.MaxRetry,
		ServerSelectionTimeout: c.ServerSelectionTimeout,
	}
}

type NatsConfig struct {
	Servers       []string      `yaml:"servers"        env:"NATS_SERVERS"        env-default:"nats://127.0.0.1:4222"`
	Name          string        `yaml:"name"           env:"NATS_NAME"           env-default:"ptracker"`
	User          string        `yaml:"user"           env:"NATS_USER"`
	Password      string        `yaml:"password"       env:"NATS_PASSWORD"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"NATS_RECONNECT_WAIT" env-default:"500ms"`
	Timeout       time.Duration `yaml:"timeout"        env:"NATS_TIMEOUT"        env-default:"3s"`
	FeedSubject   string        `yaml:"feed_subject"   env:"NATS_FEED_SUBJECT"   env-default:"ptracker.docs"`
}

func (c NatsConfig) Client() natsx.NatsxConfig {
	return natsx.NatsxConfig{
		Servers:       c.Servers,
		Name:          c.Name,
		User:          c.User,
		Password:      c.Password,
		ReconnectWait: c.ReconnectWait,
		Timeout:       c.Timeout,
	}
}

type KafkaConfig struct {
	Brokers             []string `yaml:"brokers"              env:"KAFKA_BROKERS"              env-default:"127.0.0.1:9092"`
	Topic               string   `yaml:"topic"                env:"KAFKA_TOPIC"                env-default:"ptracker.positions"`
	Partitions          int32    `yaml:"partitions"           env:"KAFKA_PARTITIONS"           env-default:"8"`
	ReplicationFactor   int16    `yaml:"replication_factor"   env:"KAFKA_REPLICATION_FACTOR"   env-default:"1"`
	ProducerRetries     int      `yaml:"producer_retries"     env:"KAFKA_PRODUCER_RETRIES"     env-default:"5"`
	ProducerCompression string   `yaml:"producer_compression" env:"KAFKA_PRODUCER_COMPRESSION" env-default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	InitialOffset       string   `yaml:"initial_offset"       env:"KAFKA_INITIAL_OFFSET"       env-default:"newest" validate:"oneof=newest oldest"`
	Version             string   `yaml:"version"              env:"KAFKA_VERSION"              env-default:"2.1.0"`
	AutoCreateTopic     bool     `yaml:"auto_create_topic"    env:"KAFKA_AUTO_CREATE_TOPIC"    env-default:"true"`
}

func (c KafkaConfig) Client() kafka.Config {
	return kafka.Config{
		Brokers:             c.Brokers,
		Topic:               c.Topic,
		PartitionsPerTopic:  c.Partitions,
		ReplicationFactor:   c.ReplicationFactor,
		ProducerRetries:     c.ProducerRetries,
		ProducerCompression: c.ProducerCompression,
		InitialOffset:       c.InitialOffset,
		Version:             c.Version,
		AutoCreateTopic:     c.AutoCreateTopic,
	}
}

type ConnectivityConfig struct {
	Interval    time.Duration `yaml:"interval"     env:"CONNECTIVITY_INTERVAL"     env-default:"3s"`
	DialTargets []string      `yaml:"dial_targets" env:"CONNECTIVITY_DIAL_TARGETS"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"CONNECTIVITY_DIAL_TIMEOUT" env-default:"2s"`
}

type PositioningConfig struct {
	Source            string        `yaml:"source"              env:"POSITIONING_SOURCE"              env-default:"feed" validate:"oneof=feed kafka"`
	Enabled           bool          `yaml:"enabled"             env:"POSITIONING_ENABLED"             env-default:"true"`
	Interval          time.Duration `yaml:"interval"            env:"POSITIONING_INTERVAL"            env-default:"1s"`
	MinDistanceMeters float64       `yaml:"min_distance_meters" env:"POSITIONING_MIN_DISTANCE_METERS" env-default:"5" validate:"gte=0"`
}

func (c PositioningConfig) Options() positioning.Options {
	return positioning.Options{Interval: c.Interval, MinDistanceMeters: c.MinDistanceMeters}
}

// SyncConfig bounds the retry of remote writes that touch two documents.
type SyncConfig struct {
	Attempts   int           `yaml:"attempts"    env:"SYNC_ATTEMPTS"    env-default:"5" validate:"gt=0"`
	BaseDelay  time.Duration `yaml:"base_delay"  env:"SYNC_BASE_DELAY"  env-default:"100ms"`
	MaxDelay   time.Duration `yaml:"max_delay"   env:"SYNC_MAX_DELAY"   env-default:"3s"`
	RunTimeout time.Duration `yaml:"run_timeout" env:"SYNC_RUN_TIMEOUT" env-default:"30s"`
}
