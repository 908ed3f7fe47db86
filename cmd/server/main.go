/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payrun batch money-movement server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Configure structured logging
  3. Initialize SQLite store
  4. Wire ledger, builder, review and executor services
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: payrun.db)
           Use ":memory:" for an in-memory database
  -seed    Populate a demo organization, beneficiaries and a funded
           verified account on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/payrun.db"

  # Run in-memory with demo data
  ./server -db=":memory:" -seed

ENVIRONMENT:
  LOG_LEVEL  debug | info | warn | error (default: info)

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian/payrun/api"
	"github.com/meridian/payrun/logging"
	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
	"github.com/meridian/payrun/payroll"
	"github.com/meridian/payrun/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "payrun.db", "SQLite database path")
	seed := flag.Bool("seed", false, "seed a demo organization on startup")
	flag.Parse()

	logging.Setup()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		slog.Error("failed to initialize database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Wire services
	notifier := payout.LogNotifier{}
	ledger := payout.NewLedger(store)
	builder := payout.NewBuilder(store, store, store, notifier)
	review := payout.NewReview(store, ledger, notifier)
	executor := payout.NewExecutor(store, notifier)

	if *seed {
		if err := seedDemo(context.Background(), store, ledger); err != nil {
			slog.Error("seeding failed", "error", err)
			os.Exit(1)
		}
	}

	handler := api.NewHandler(store, builder, review, executor, ledger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// seedDemo creates one approved organization with a verified, funded account
// and a few beneficiaries, so the whole workflow can be driven from curl.
func seedDemo(ctx context.Context, store *sqlite.Store, ledger *payout.Ledger) error {
	org := &payout.Organization{ID: "org-demo", Name: "Demo Industries", Approved: true}
	if err := store.CreateOrganization(ctx, org); err != nil {
		return err
	}

	account := &payout.FundingAccount{
		ID:           "acc-demo",
		HolderID:     org.ID,
		Balance:      money.Zero,
		Verification: payout.VerificationVerified,
	}
	if err := store.CreateAccount(ctx, account); err != nil {
		return err
	}
	if _, err := ledger.Credit(ctx, account.ID, money.MustParse("100000.00")); err != nil {
		return err
	}

	tmpl := &payroll.SalaryTemplate{
		ID:         "tpl-demo",
		Name:       "Demo Grade",
		Basic:      money.MustParse("30000.00"),
		HRA:        money.MustParse("12000.00"),
		Allowances: money.MustParse("5000.00"),
		Deductions: money.MustParse("2000.00"),
	}
	beneficiaries := []*payout.Beneficiary{
		{ID: "emp-1", OrgID: org.ID, Name: "Asha Rao", Kind: payout.BeneficiaryEmployee, Active: true, Template: tmpl},
		{ID: "emp-2", OrgID: org.ID, Name: "Dev Mehta", Kind: payout.BeneficiaryEmployee, Active: true, Template: tmpl},
		{ID: "ven-1", OrgID: org.ID, Name: "Acme Supplies", Kind: payout.BeneficiaryVendor, Active: true},
	}
	for _, ben := range beneficiaries {
		if err := store.CreateBeneficiary(ctx, ben); err != nil {
			return err
		}
	}

	slog.Info("seeded demo data", "org", org.ID, "account", account.ID)
	return nil
}
