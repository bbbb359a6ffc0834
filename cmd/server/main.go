package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"rackops/internal/auth"
	"rackops/internal/config"
	"rackops/internal/database"
	"rackops/internal/handlers"
	"rackops/internal/kinds"
	"rackops/internal/maintenance"
	"rackops/internal/middleware"
	"rackops/internal/notify"
	"rackops/internal/store"
)

func main() {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	registry := kinds.Defaults()
	if cfg.KindsFile != "" {
		registry, err = kinds.Load(cfg.KindsFile)
		if err != nil {
			log.Fatalf("Failed to load job kind table: %v", err)
		}
		log.Printf("Job kind table loaded from %s", cfg.KindsFile)
	}

	jobStore := store.New(db.DB, registry)
	hub := notify.NewHub()

	tokens := auth.VerifierChain{auth.NewJWTVerifier(cfg.JWTSecret)}
	if cfg.OpsTokenHash != "" {
		tokens = append(tokens, auth.NewOpsTokenVerifier(cfg.OpsTokenHash))
	}
	authenticator := auth.NewAuthenticator(cfg.ExecutorSharedSecret, tokens)
	if cfg.ExecutorSharedSecret == "" {
		log.Println("WARNING: EXECUTOR_SHARED_SECRET not set, running in open mode")
	}

	reaper := maintenance.NewReaper(jobStore, cfg.StalePendingAge, cfg.StaleRunningAge, cfg.Debug)
	compactor := maintenance.NewCompactor(jobStore, cfg.RetentionDays,
		cfg.StalePendingAge, cfg.StaleRunningAge, cfg.Debug)

	router := mux.NewRouter()
	router.Use(middleware.CORSMiddleware)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	// All job-related routes go through the dual authenticator
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(middleware.DualAuth(authenticator))

	jobsHandler := handlers.NewJobsHandler(jobStore, hub)
	apiRouter.HandleFunc("/jobs", jobsHandler.ListJobs).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/jobs", jobsHandler.CreateJob).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/jobs/claimable", jobsHandler.ClaimableJobs).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/jobs/{id}/status", jobsHandler.UpdateStatus).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/jobs/{id}/cancel", jobsHandler.CancelJob).Methods("POST", "OPTIONS")

	tasksHandler := handlers.NewTasksHandler(jobStore)
	apiRouter.HandleFunc("/jobs/{id}/tasks", tasksHandler.ListTasks).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/jobs/{id}/tasks", tasksHandler.CreateTasks).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/tasks/{id}", tasksHandler.UpdateTask).Methods("POST", "OPTIONS")

	watchHandler := handlers.NewWatchHandler(jobStore, hub)
	apiRouter.HandleFunc("/jobs/{id}/watch", watchHandler.Watch).Methods("GET")

	maintenanceHandler := handlers.NewMaintenanceHandler(reaper, compactor)
	apiRouter.HandleFunc("/maintenance/reap", maintenanceHandler.Reap).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/maintenance/compact", maintenanceHandler.Compact).Methods("POST", "OPTIONS")

	sched := maintenance.NewScheduler(reaper, compactor, cfg.ReaperInterval, cfg.CompactorInterval)
	sched.Start()
	defer sched.Stop()

	log.Printf("Server starting on port %d", cfg.Port)
	log.Printf("Reaper every %s (pending > %s, running > %s), compactor every %s (retention %d days)",
		cfg.ReaperInterval, cfg.StalePendingAge, cfg.StaleRunningAge,
		cfg.CompactorInterval, cfg.RetentionDays)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
