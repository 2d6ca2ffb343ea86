package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/match"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func serveCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the matching API and the list consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), rt)
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Endpoint:    cfg.OTLPEndpoint,
		Protocol:    cfg.OTLPProtocol,
		Insecure:    cfg.OTLPInsecure,
		Timeout:     10 * time.Second,
	})
	if err != nil {
		return err
	}

	a := newApp(rt)
	var (
		producer    *kafka.Producer
		consumer    *kafka.Consumer
		graphClient *graph.Client
		server      *echo.Echo
		serverErr   = make(chan error, 1)
	)

	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	s.AddDependency(startup.Func{
		Name:    "database",
		OnStart: a.connectDatabase,
		OnStop:  func(context.Context) error { return a.db.Close() },
	})
	s.AddDependency(startup.Func{
		Name:     "migrations",
		Requires: []string{"database"},
		OnStart:  func(context.Context) error { return a.migrate() },
	})

	matchingRequires := []string{"migrations"}
	if cfg.RedisEnabled {
		s.AddDependency(startup.Func{
			Name:    "redis",
			OnStart: a.connectRedis,
			OnStop:  func(context.Context) error { return a.redis.Close() },
		})
		matchingRequires = append(matchingRequires, "redis")
	}
	if cfg.GraphEnabled {
		s.AddDependency(startup.Func{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.ConfigFrom(cfg), logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				if err := client.EnsureIndexes(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				graphClient = client
				return nil
			},
			OnStop: func(ctx context.Context) error { return graphClient.Close(ctx) },
		})
		matchingRequires = append(matchingRequires, "graph")
	}
	if cfg.KafkaProducerEnabled {
		s.AddDependency(startup.Func{
			Name: "kafka-producer",
			OnStart: func(context.Context) error {
				producer = kafka.NewProducer(kafka.ProducerConfigFrom(cfg), logger)
				return nil
			},
			OnStop: func(context.Context) error { return producer.Close() },
		})
		matchingRequires = append(matchingRequires, "kafka-producer")
	}

	var (
		pipeline  *processor.Pipeline
		moderator *processor.Moderator
	)
	s.AddDependency(startup.Func{
		Name:     "matching",
		Requires: matchingRequires,
		OnStart: func(ctx context.Context) error {
			a.buildGazetteer()
			if cfg.ModelWarmupOnStart {
				// readiness reports false until the model is loaded
				a.cache.Warm(ctx)
			}

			var opts []processor.PipelineOption
			if producer != nil {
				opts = append(opts, processor.WithEventPublisher(producer))
			}
			if graphClient != nil {
				opts = append(opts, processor.WithGraphProjector(graph.NewProjector(graphClient, logger)))
			}
			pipeline, moderator = a.matchingStack(opts...)
			return nil
		},
	})

	if cfg.KafkaConsumerEnabled {
		s.AddDependency(startup.Func{
			Name:     "kafka-consumer",
			Requires: []string{"matching"},
			OnStart: func(ctx context.Context) error {
				consumer = kafka.NewConsumer(cfg, logger, func(ctx context.Context, msg *kafka.IncomingMessage) error {
					_, err := pipeline.ProcessList(ctx, msg.Job.SourceID)
					return err
				})
				return consumer.Start(context.WithoutCancel(ctx))
			},
			OnStop: func(context.Context) error { return consumer.Stop() },
		})
	}

	s.AddDependency(startup.Func{
		Name:     "http",
		Requires: []string{"matching"},
		OnStart: func(context.Context) error {
			checker := health.NewChecker(cfg.CodeVersion, a.cache.Ready, healthChecks(a, graphClient, consumer))
			server = newServer(cfg, logger, checker, match.NewHandler(pipeline, moderator, pipeline, logger))
			go func() {
				if err := server.Start(listenAddr(cfg)); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()
			logger.WithField("addr", listenAddr(cfg)).Info("HTTP server started")
			return nil
		},
		OnStop: func(ctx context.Context) error { return server.Shutdown(ctx) },
	})

	if err := s.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = s.Stop(stopCtx)
		_ = shutdownTracing(stopCtx)
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case runErr = <-serverErr:
		logger.WithError(runErr).Error("HTTP server failed")
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	if err := shutdownTracing(stopCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return runErr
}

func healthChecks(a *app, graphClient *graph.Client, consumer *kafka.Consumer) map[string]health.Check {
	checks := map[string]health.Check{
		"database": func(ctx context.Context) error { return a.db.PingContext(ctx) },
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if graphClient != nil {
		checks["graph"] = graphClient.VerifyConnectivity
	}
	if consumer != nil {
		checks["kafka-consumer"] = func(context.Context) error {
			if !consumer.Health() {
				return errors.New("fetching from the broker is failing")
			}
			return nil
		}
	}
	return checks
}
