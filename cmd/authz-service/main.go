package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caregrid/authz/internal/audit"
	"github.com/caregrid/authz/internal/authz"
	"github.com/caregrid/authz/internal/pending"
	"github.com/caregrid/authz/internal/server"
	"github.com/caregrid/authz/pkg/config"
	"github.com/caregrid/authz/pkg/database"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Authorization Service")

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.Errorf("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CreateSchema(ctx); err != nil {
		log.Errorf("Failed to create database schema: %v", err)
		os.Exit(1)
	}

	// Decision engine over the static role table
	table := authz.DefaultPolicyTable()
	engine := authz.NewEngine(table, log)

	// Audit trail
	auditRepo := audit.NewRepository(db, log)
	interceptor := audit.NewInterceptor(auditRepo, log)
	auditHandler := audit.NewHandler(auditRepo, log)

	// Pending permission workflow
	suggestionRepo := pending.NewRepository(db, log)
	principalRepo := pending.NewPrincipalRepository(db, log)
	recommender := pending.NewRecommenderClient(&cfg.Recommender, log)
	workflow := pending.NewService(suggestionRepo, principalRepo, recommender, table, log)
	pendingHandler := pending.NewHandler(workflow, log)

	// Seed the permission catalog and the role permission mirror so that
	// recommender labels resolve against real catalog rows.
	rolePerms := authz.DefaultRolePermissions()
	if err := suggestionRepo.EnsurePermissions(ctx, catalogFromRoleTable(rolePerms)); err != nil {
		log.Errorf("Failed to seed permission catalog: %v", err)
		os.Exit(1)
	}
	if err := suggestionRepo.SeedRolePermissions(ctx, rolePerms); err != nil {
		log.Errorf("Failed to seed role permissions: %v", err)
		os.Exit(1)
	}

	authzHandler := authz.NewHandler(engine, principalRepo, interceptor, log)

	srv := server.New(cfg, log, db, interceptor, authzHandler, auditHandler, pendingHandler)

	// Start service in a goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start Authorization Service: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Authorization Service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Errorf("Error during shutdown: %v", err)
	}
	log.Info("Authorization Service stopped")
}

// catalogFromRoleTable flattens the role table into the unique permission
// catalog entries it references.
func catalogFromRoleTable(rolePerms map[string]map[string][]string) []types.Permission {
	seen := map[string]struct{}{}
	catalog := []types.Permission{}

	for _, resources := range rolePerms {
		for resourceType, actions := range resources {
			for _, action := range actions {
				key := resourceType + ":" + action
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				catalog = append(catalog, types.Permission{
					ResourceType: resourceType,
					Action:       action,
					Scope:        types.ScopeAny,
				})
			}
		}
	}

	return catalog
}
