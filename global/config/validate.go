package config

import (
	"PTracker/tools/errs"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks field tags, then the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}

	switch c.Identity.Mode {
	case "static":
		if c.Identity.UserID == "" {
			return errs.ErrArgs.WrapMsg("identity.user_id is required in static mode")
		}
	case "jwt":
		if len(c.Identity.Secret) < 32 {
			return errs.ErrArgs.WrapMsg("identity.secret must be at least 32 characters", "got", len(c.Identity.Secret))
		}
		if c.Identity.Token == "" {
			return errs.ErrArgs.WrapMsg("identity.token is required in jwt mode")
		}
	}

	if c.Storage.Backend == "postgres" && c.Postgres.DSN == "" {
		return errs.ErrArgs.WrapMsg("postgres.dsn is required for the postgres backend")
	}
	if c.Remote.Backend == "mongo" {
		if c.Mongo.URI == "" && len(c.Mongo.Address) == 0 {
			return errs.ErrArgs.WrapMsg("mongo.uri or mongo.address is required for the mongo backend")
		}
		if len(c.Nats.Servers) == 0 {
			return errs.ErrArgs.WrapMsg("nats.servers is required for the mongo backend")
		}
	}
	if c.Positioning.Source == "kafka" && len(c.Kafka.Brokers) == 0 {
		return errs.ErrArgs.WrapMsg("kafka.brokers is required for the kafka source")
	}
	if c.Sync.MaxDelay > 0 && c.Sync.BaseDelay > c.Sync.MaxDelay {
		return errs.ErrArgs.WrapMsg("sync.base_delay exceeds sync.max_delay")
	}
	return nil
}
