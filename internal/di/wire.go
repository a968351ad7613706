package di

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/config"
)

// New builds the full container: databases, repositories, services
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Log:    log,
	}

	if err := c.openDatabases(); err != nil {
		c.Close()
		return nil, err
	}
	c.buildRepositories()
	if err := c.buildServices(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}
