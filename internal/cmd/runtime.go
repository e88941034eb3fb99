package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/batchfan/internal/config"
	"github.com/3leaps/batchfan/internal/observability"
	"github.com/3leaps/batchfan/internal/server"
	"github.com/3leaps/batchfan/internal/server/handlers"
	"github.com/3leaps/batchfan/pkg/awsconf"
	"github.com/3leaps/batchfan/pkg/batch/awsbatch"
	"github.com/3leaps/batchfan/pkg/events"
	"github.com/3leaps/batchfan/pkg/metrics"
	"github.com/3leaps/batchfan/pkg/monitor"
	s3provider "github.com/3leaps/batchfan/pkg/provider/s3"
	"github.com/3leaps/batchfan/pkg/runregistry"
	"github.com/3leaps/batchfan/pkg/stash"
)

// runtime holds the clients and sinks shared by the run commands.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	runID  string

	aws     aws.Config
	client  *awsbatch.Client
	fetcher *awsbatch.LogFetcher

	// objects is nil when no bucket is configured.
	objects *s3provider.Provider

	stash   stash.Method
	sink    stash.Sink
	metrics *metrics.Metrics
	events  events.Publisher
	runs    *runregistry.Store
}

// newRuntime connects everything a run needs. needObjects requires a
// bucket, for runs that upload inputs.
func newRuntime(ctx context.Context, cfg *config.Config, runID string, needObjects bool) (*runtime, error) {
	logger := observability.CLILogger.With(zap.String("run_id", runID))
	rt := &runtime{cfg: cfg, logger: logger, runID: runID, events: events.Nop{}}

	awsCfg, err := awsconf.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to load AWS configuration", err)
	}
	rt.aws = awsCfg
	rt.client = awsbatch.New(awsCfg, cfg.AWS.Endpoint, logger)
	rt.fetcher = awsbatch.NewLogFetcher(awsCfg, cfg.AWS.Endpoint, cfg.Batch.LogGroup)

	method, err := stash.ParseMethod(cfg.Monitor.Stash)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid stash method", err)
	}
	rt.stash = method

	if cfg.Storage.Bucket != "" {
		rt.objects, err = s3provider.New(ctx, s3provider.Config{
			Bucket:         cfg.Storage.Bucket,
			AWS:            cfg.AWS,
			ForcePathStyle: cfg.Storage.ForcePathStyle,
			PartSize:       cfg.Storage.PartSize,
		})
		if err != nil {
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to create S3 provider", err)
		}
	} else if needObjects || method == stash.MethodS3 {
		return nil, exitError(foundry.ExitInvalidArgument, "A bucket is required", fmt.Errorf("set --bucket or storage.bucket"))
	}

	switch method {
	case stash.MethodLocal:
		rt.sink = stash.NewLocalSink("")
	case stash.MethodS3:
		rt.sink = stash.NewObjectSink(rt.objects)
	}

	rt.metrics = metrics.New(observability.InitRegistry())

	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, runID)
		if err != nil {
			rt.Close()
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to NATS", err)
		}
		rt.events = pub
	}

	dir, err := cfg.RegistryDir()
	if err != nil {
		rt.Close()
		return nil, exitError(foundry.ExitFileWriteError, "Failed to resolve run registry", err)
	}
	rt.runs = runregistry.NewStore(dir)
	return rt, nil
}

// Close releases connections.
func (rt *runtime) Close() {
	if rt.events != nil {
		if err := rt.events.Close(); err != nil {
			rt.logger.Warn("closing event publisher failed", zap.Error(err))
		}
	}
	if rt.objects != nil {
		_ = rt.objects.Close()
	}
}

// serve starts the metrics and health listener when metrics.addr is set.
// It stops when ctx is cancelled.
func (rt *runtime) serve(ctx context.Context) error {
	if rt.cfg.Metrics.Addr == "" {
		return nil
	}
	host, port, err := server.ParseAddr(rt.cfg.Metrics.Addr)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid metrics address", err)
	}
	handlers.InitHealthManager(versionInfo.Version)
	srv := server.New(host, port)
	go func() {
		if err := srv.Start(ctx); err != nil {
			rt.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	return nil
}

// monitorTemplate returns the monitor settings shared by every queue.
func (rt *runtime) monitorTemplate(logBase string) monitor.Config {
	m := rt.cfg.Monitor
	return monitor.Config{
		PollInterval:   m.PollInterval,
		IdleLogTimeout: m.IdleLogTimeout,
		KillOnStall:    m.KillOnStall,
		Stash:          rt.stash,
		LogBase:        logBase,
		DumpSize:       m.DumpSize,
		ListRetries:    m.ListRetries,
		Logger:         rt.logger,
		Metrics:        rt.metrics,
		Events:         rt.events,
	}
}

// clusters resolves the container cluster of each queue for instance
// tagging. It returns nil, nil when tagging is off.
func (rt *runtime) clusters(ctx context.Context, queues []string) (monitor.ClusterTagger, map[string]string, error) {
	if !rt.cfg.Monitor.TagInstances {
		return nil, nil, nil
	}
	if rt.cfg.Batch.Project == "" {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Tagging instances requires a project", fmt.Errorf("set --project or batch.project"))
	}
	out := make(map[string]string, len(queues))
	for _, q := range queues {
		cluster, err := awsbatch.ClusterForQueue(ctx, rt.client, q)
		if err != nil {
			return nil, nil, exitError(foundry.ExitInvalidArgument, "Cannot tag instances of queue "+q, err)
		}
		out[q] = cluster
	}
	return awsbatch.NewTagger(rt.aws, rt.cfg.Batch.Project, rt.logger), out, nil
}

// hostPID is recorded in run records for zombie detection.
func hostPID() int {
	return os.Getpid()
}
