// Package graph mirrors match decisions into Memgraph/Neo4j over Bolt.
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// indexStatements speed up the MERGEs in projectMatchesCypher. Memgraph treats
// an existing index as success.
var indexStatements = []string{
	"CREATE INDEX ON :ListItem(id)",
	"CREATE INDEX ON :Facility(id)",
}

// Client is a write-only handle on the match graph.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Database selects a Neo4j database; Memgraph ignores it.
	Database string
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Host:     cfg.GraphDBHost,
		Port:     cfg.GraphDBPort,
		Username: cfg.GraphDBUser,
		Password: cfg.GraphDBPassword,
	}
}

func (c Config) URI() string {
	return fmt.Sprintf("bolt://%s:%d", c.Host, c.Port)
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI(), auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver for %s: %w", cfg.URI(), err)
	}
	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// EnsureIndexes creates the lookup indexes the projection relies on.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.EnsureIndexes")
	defer span.End()

	for _, stmt := range indexStatements {
		if err := c.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create graph index %q: %w", stmt, err)
		}
	}
	c.logger.WithContext(ctx).WithField("indexes", len(indexStatements)).Info("Graph indexes ready")
	return nil
}

// write runs one statement in a managed write transaction, retried by the driver
// on transient errors.
func (c *Client) write(ctx context.Context, cypher string, params map[string]any) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}
