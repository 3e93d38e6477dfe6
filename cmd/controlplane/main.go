// Copyright 2025 shiioo
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main boots the control plane: it loads configuration, wires
// every manager package together, and serves the HTTP/WebSocket API
// until a termination signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/shiioo-io/controlplane/internal/analytics"
	"github.com/shiioo-io/controlplane/internal/api"
	"github.com/shiioo-io/controlplane/internal/approval"
	"github.com/shiioo-io/controlplane/internal/audit"
	"github.com/shiioo-io/controlplane/internal/blobstore"
	"github.com/shiioo-io/controlplane/internal/capacity"
	"github.com/shiioo-io/controlplane/internal/cluster"
	"github.com/shiioo-io/controlplane/internal/compliance"
	"github.com/shiioo-io/controlplane/internal/config"
	"github.com/shiioo-io/controlplane/internal/configchange"
	"github.com/shiioo-io/controlplane/internal/eventlog"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/internal/llmprovider"
	"github.com/shiioo-io/controlplane/internal/mcp"
	"github.com/shiioo-io/controlplane/internal/metrics"
	"github.com/shiioo-io/controlplane/internal/rbac"
	"github.com/shiioo-io/controlplane/internal/routine"
	"github.com/shiioo-io/controlplane/internal/runindex"
	"github.com/shiioo-io/controlplane/internal/secret"
	"github.com/shiioo-io/controlplane/internal/stepexec"
	"github.com/shiioo-io/controlplane/internal/tenant"
	"github.com/shiioo-io/controlplane/internal/workflow"
	"github.com/shiioo-io/controlplane/shared/logger"
)

func main() {
	configPath := flag.String("config", "controlplane.toml", "path to config file")
	dataDirOverride := flag.String("data-dir", "", "override general.data_dir")
	hostOverride := flag.String("host", "", "override general.host")
	portOverride := flag.Int("port", 0, "override general.port")
	mcpMode := flag.Bool("mcp", false, "run the MCP tool server (JSON-RPC over stdio) instead of the HTTP API")
	flag.Parse()

	log := logger.New("controlplane")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *dataDirOverride != "" {
		cfg.General.DataDir = *dataDirOverride
	}
	if *hostOverride != "" {
		cfg.General.Host = *hostOverride
	}
	if *portOverride != 0 {
		cfg.General.Port = *portOverride
	}

	if *mcpMode {
		if err := runMCP(cfg, log); err != nil {
			log.Error(logger.Ctx{}, "mcp server exited with error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log); err != nil {
		log.Error(logger.Ctx{}, "controlplane exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// runMCP boots just enough of the data plane (run index + event log) to
// serve the MCP tool surface over stdio; it shares the same --data-dir as
// the HTTP mode so an MCP client can inspect runs produced by a sibling
// `controlplane` process.
func runMCP(cfg *config.Config, log *logger.Logger) error {
	dataDir := cfg.General.DataDir

	events, err := eventlog.New(dataDir, log)
	if err != nil {
		return fmt.Errorf("eventlog: %w", err)
	}
	index, err := runindex.New(dataDir)
	if err != nil {
		return fmt.Errorf("runindex: %w", err)
	}

	registry := newMCPRegistry(index, events)
	server := mcp.New(registry, log)
	log.Info(logger.Ctx{}, "mcp server ready on stdio", map[string]interface{}{"tools": len(registry.ListSchemas())})
	return server.Serve(os.Stdin, os.Stdout)
}

func run(cfg *config.Config, log *logger.Logger) error {
	dataDir := cfg.General.DataDir

	blobs, err := blobstore.New(filepath.Join(dataDir, "blobs"), log)
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	events, err := eventlog.New(dataDir, log)
	if err != nil {
		return fmt.Errorf("eventlog: %w", err)
	}
	index, err := runindex.New(dataDir)
	if err != nil {
		return fmt.Errorf("runindex: %w", err)
	}
	auditLog, err := audit.New(filepath.Join(dataDir, "audit"), log)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	metricsRegistry := metrics.New()
	analyticsTracker := analytics.New()

	capacityProvider := llmprovider.New(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"))
	capacityBroker := capacity.New(capacityProvider, log)

	rbacMgr := rbac.New()
	approvalMgr := approval.New()
	configChangeMgr := configchange.New(approvalMgr)
	configChangeMgr.SetEventSink(func(proposalID, eventType string, data map[string]interface{}) {
		_ = events.Append(eventlog.Event{
			ID: ids.New(), RunID: proposalID, Timestamp: time.Now().UTC(),
			Type: eventlog.EventType(eventType), Data: data,
		})
	})
	tenantMgr := tenant.New(dataDir)

	secretKey, err := loadOrCreateSecretKey(cfg.Secret.EncryptionKeyFile)
	if err != nil {
		return fmt.Errorf("secret key: %w", err)
	}
	cipher, err := secret.NewAESGCMCipher(secretKey)
	if err != nil {
		return fmt.Errorf("secret cipher: %w", err)
	}
	secretStore := secret.New(cipher)

	clusterMgr := cluster.New()
	clusterLock, closeLock := buildClusterLock(cfg, log)
	if closeLock != nil {
		defer closeLock()
	}
	selfNode := clusterMgr.Register(cfg.Cluster.NodeID, fmt.Sprintf("%s:%d", cfg.General.Host, cfg.General.Port))
	elector := cluster.NewLeaderElector(clusterLock, selfNode.ID, cfg.Cluster.LeaderTTL.Duration)

	complianceChecker := compliance.New(auditLog)
	securityScanner := compliance.NewScanner(auditLog)

	server := api.New(log)

	steps := stepexec.New(blobs, events, capacityBroker, nil, scriptRunner{}, newApprovalWaiter(approvalMgr), log)
	workflowExec := workflow.New(steps, events, index, log, workflow.MultiAnalytics(analyticsTracker, server.WorkflowObserver()))
	workflowExec.SetMetrics(metricsRegistry)
	routineScheduler := routine.New(workflowExec, log)

	server.Events = events
	server.RunIndex = index
	server.Workflow = workflowExec
	server.Analytics = analyticsTracker
	server.Audit = auditLog
	server.RBAC = rbacMgr
	server.Approvals = approvalMgr
	server.ConfigChange = configChangeMgr
	server.Capacity = capacityBroker
	server.Routines = routineScheduler
	server.Secrets = secretStore
	server.Tenants = tenantMgr
	server.Cluster = clusterMgr
	server.Compliance = complianceChecker
	server.Security = securityScanner
	server.Metrics = metricsRegistry

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runLeaderHeartbeat(ctx, elector, clusterMgr, selfNode.ID, cfg.Cluster.HeartbeatEvery.Duration, log)
	server.StartBroadcast(ctx, 10*time.Second)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.General.Host, cfg.General.Port),
		Handler:      server.Router(cfg.API.CORSOrigins),
		ReadTimeout:  cfg.API.RequestTimeout.Duration,
		WriteTimeout: cfg.API.RequestTimeout.Duration,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(logger.Ctx{}, "controlplane listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info(logger.Ctx{}, "received signal, shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := events.Flush(); err != nil {
		log.Warn(logger.Ctx{}, "failed to flush event log on shutdown", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func runLeaderHeartbeat(ctx context.Context, elector *cluster.LeaderElector, mgr *cluster.Manager, nodeID string, every time.Duration, log *logger.Logger) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := elector.Renew()
			if err != nil {
				log.Warn(logger.Ctx{}, "leader lease renewal failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			role := cluster.Follower
			if held {
				role = cluster.Leader
			}
			_ = mgr.SetRole(nodeID, role)
			_ = mgr.Heartbeat(nodeID)
		}
	}
}

func buildClusterLock(cfg *config.Config, log *logger.Logger) (cluster.Lock, func()) {
	if cfg.Cluster.RedisAddr == "" {
		return cluster.NewMemoryLock(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Cluster.RedisAddr})
	log.Info(logger.Ctx{}, "using redis-backed cluster lock", map[string]interface{}{"addr": cfg.Cluster.RedisAddr})
	return cluster.NewRedisLock(client), func() { client.Close() }
}

func loadOrCreateSecretKey(path string) ([]byte, error) {
	if path == "" {
		return []byte("controlplane-default-key-change-me"), nil
	}
	key, err := os.ReadFile(path)
	if err == nil {
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	generated := []byte(fmt.Sprintf("key-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, generated, 0o600); err != nil {
		return nil, err
	}
	return generated, nil
}
