// Command bankaccount-demo wires every layer of the aggregate runtime into
// a single runnable binary: an embedded NATS server managed by pkg/runner,
// a SQLite-backed durable store, the account directory, and OpenTelemetry
// instrumentation, driving the bankaccount example through an
// open/deposit/deposit/withdraw lifecycle.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	natsclient "github.com/nats-io/nats.go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	_ "gocloud.dev/secrets/localsecrets"

	"github.com/bryannaegele/maestro/examples/bankaccount"
	"github.com/bryannaegele/maestro/pkg/aggregate"
	"github.com/bryannaegele/maestro/pkg/directory"
	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/hlc"
	infranats "github.com/bryannaegele/maestro/pkg/infrastructure/nats"
	"github.com/bryannaegele/maestro/pkg/observability"
	"github.com/bryannaegele/maestro/pkg/projection/natsbus"
	"github.com/bryannaegele/maestro/pkg/registry"
	"github.com/bryannaegele/maestro/pkg/runner"
	"github.com/bryannaegele/maestro/pkg/runtime/embeddednats"
	"github.com/bryannaegele/maestro/pkg/security/credentials"
	"github.com/bryannaegele/maestro/pkg/store/sqlite"
	"github.com/bryannaegele/maestro/pkg/validators"
	"github.com/shopspring/decimal"
)

// demoSecretKeeperURL points at an in-process gocloud.dev/secrets keeper
// (the "base64key" local backend) so this demo exercises the same
// pluggable credential resolution a production deployment would point at
// AWS/GCP/Azure/Vault instead, without requiring any of those here.
const demoSecretKeeperURL = "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAJ3fnCVxGnDu6ZZF5Q="

// slogRunnerLogger adapts a *slog.Logger to runner.Logger, so pkg/runner's
// lifecycle logging goes through the same structured logger as everything
// else in this binary instead of the package's default no-op logger.
type slogRunnerLogger struct{ log *slog.Logger }

func (l slogRunnerLogger) Info(msg string, kv ...interface{})  { l.log.Info(msg, kv...) }
func (l slogRunnerLogger) Error(msg string, kv ...interface{}) { l.log.Error(msg, kv...) }
func (l slogRunnerLogger) Debug(msg string, kv ...interface{}) { l.log.Debug(msg, kv...) }

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	fmt.Println("=== Bank Account Aggregate Runtime Demo ===")
	fmt.Println()

	// 1. Resolve the NATS auth token through a gocloud.dev/secrets keeper.
	fmt.Println("1️⃣  Resolving NATS credentials...")
	token := resolveNATSToken(ctx, logger)
	fmt.Println("   ✅ Credential resolution complete")
	fmt.Println()

	// 2. Start an embedded NATS server under pkg/runner lifecycle management.
	fmt.Println("2️⃣  Starting embedded NATS server...")
	natsSvc := embeddednats.New(
		embeddednats.WithLogger(slogRunnerLogger{logger}),
		embeddednats.WithNATSOptions(infranats.WithJetStream(false)),
	)
	svcRunner := runner.New([]runner.Service{natsSvc}, runner.WithLogger(slogRunnerLogger{logger}))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runnerErrCh := make(chan error, 1)
	go func() { runnerErrCh <- svcRunner.Run(runCtx) }()

	for natsSvc.URL() == "" {
		time.Sleep(50 * time.Millisecond)
	}
	if err := svcRunner.HealthCheck(ctx); err != nil {
		log.Fatalf("nats health check failed: %v", err)
	}
	fmt.Printf("   ✅ NATS ready at %s\n", natsSvc.URL())
	fmt.Println()

	// 3. Connect a publisher client and open the durable SQLite store.
	fmt.Println("3️⃣  Connecting publisher and opening durable store...")
	var connOpts []natsclient.Option
	if token != "" {
		connOpts = append(connOpts, natsclient.Token(token))
	}
	conn, err := natsclient.Connect(natsSvc.URL(), connOpts...)
	if err != nil {
		log.Fatalf("connect to nats: %v", err)
	}
	defer conn.Close()

	dsn := "file:" + filepath.Join(os.TempDir(), "bankaccount-demo.db")
	st, err := sqlite.New(sqlite.WithDSN(dsn))
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer st.Close()
	fmt.Printf("   ✅ Store ready at %s\n", dsn)
	fmt.Println()

	// 4. Wire OpenTelemetry metrics and tracing into the account runtime,
	// persisting both into the same SQLite file the event store uses.
	fmt.Println("4️⃣  Initializing observability...")
	obsConfig := observability.DefaultSQLiteExporterConfig(st.DB())
	traceExporter, err := observability.NewSQLiteTraceExporter(obsConfig)
	if err != nil {
		log.Fatalf("init trace exporter: %v", err)
	}
	metricExporter, err := observability.NewSQLiteMetricExporter(obsConfig)
	if err != nil {
		log.Fatalf("init metric exporter: %v", err)
	}
	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:     "bankaccount-demo",
		ServiceVersion:  "0.1.0",
		Environment:     "demo",
		TraceExporter:   traceExporter,
		TraceSampleRate: 1.0,
		MetricReader:    sdkmetric.NewPeriodicReader(metricExporter),
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("init observability: %v", err)
	}
	fmt.Printf("   ✅ Metrics and tracing ready, persisting to %s\n", dsn)
	fmt.Println()

	// 5. Register handlers and build the account directory.
	fmt.Println("5️⃣  Building account directory...")
	reg := registry.New()
	bankaccount.Register(reg)
	publisher := natsbus.New(conn, "account")
	cfg := bankaccount.Config(
		aggregate.WithProjections(publisher.Handle),
		aggregate.WithTracer(tel.Tracer("bankaccount-demo")),
		aggregate.WithMetrics(tel.Metrics),
	)
	dir := directory.New(runCtx, cfg, st, reg, hlc.NewSystemClock(), logger)
	fmt.Println("   ✅ Directory ready")
	fmt.Println()

	// 6. Drive an account through its lifecycle.
	fmt.Println("6️⃣  Exercising the account lifecycle...")
	accountID := "acc-demo-1"
	acct, err := dir.Whereis(accountID)
	if err != nil {
		log.Fatalf("start account actor: %v", err)
	}

	accountNumber := "demo-" + accountID
	fmt.Printf("   account number %s\n", validators.MaskString(accountNumber))
	mustEvaluate(ctx, acct, "open", domain.Command{
		CommandID:   "open-" + accountID,
		AggregateID: accountID,
		Type:        bankaccount.CommandOpen,
		Data:        bankaccount.NewOpenData(accountNumber, "owner@example.com", "USD", "correct-horse-battery-staple-9!"),
	})
	mustEvaluate(ctx, acct, "deposit 300", amountCommand(accountID, "dep-1", bankaccount.CommandDeposit, decimal.NewFromInt(300)))
	mustEvaluate(ctx, acct, "deposit 150", amountCommand(accountID, "dep-2", bankaccount.CommandDeposit, decimal.NewFromInt(150)))
	mustEvaluate(ctx, acct, "withdraw 75", amountCommand(accountID, "wd-1", bankaccount.CommandWithdraw, decimal.NewFromInt(75)))

	state, err := acct.Get(ctx)
	if err != nil {
		log.Fatalf("get account state: %v", err)
	}
	fmt.Printf("   ✅ Balance after lifecycle: %s\n", bankaccount.Balance(state).String())
	fmt.Println()

	// 7. Flush telemetry, then query back what got persisted to prove the
	// SQLite exporter and the rest of the lifecycle share one database.
	fmt.Println("7️⃣  Inspecting recorded telemetry...")
	if err := tel.Shutdown(ctx); err != nil {
		fmt.Printf("   ⚠️  Telemetry shutdown reported errors: %v\n", err)
	}
	queries := observability.NewSQLiteObservabilityQueries(st.DB(), obsConfig)
	traces, err := queries.QueryTraces(time.Time{}, time.Time{}, 50)
	if err != nil {
		fmt.Printf("   ⚠️  Could not query recorded traces: %v\n", err)
	} else {
		fmt.Printf("   ✅ %d trace(s) recorded for this run\n", len(traces))
	}
	fmt.Println()

	// 8. Shut everything down gracefully.
	fmt.Println("8️⃣  Shutting down...")
	cancel()
	if err := <-runnerErrCh; err != nil {
		fmt.Printf("   ⚠️  Runner stopped with error: %v\n", err)
	} else {
		fmt.Println("   ✅ Runner stopped gracefully")
	}
	fmt.Println()
	fmt.Println("🎉 Demo complete!")
}

// resolveNATSToken tries, in order, an operator-supplied environment
// variable and the gocloud.dev/secrets-backed keeper; a production
// deployment would put a real secrets-manager-backed provider ahead of
// the environment one, but the chaining itself is what this demo
// exercises.
func resolveNATSToken(ctx context.Context, logger *slog.Logger) string {
	seedErr := credentials.StoreCredentials(ctx, demoSecretKeeperURL, &credentials.Credentials{
		Type:  credentials.CredentialTypeToken,
		Token: "demo-nats-token",
	})
	if seedErr != nil {
		logger.Warn("could not seed demo secret, continuing without an auth token", "error", seedErr)
		return ""
	}

	secretProvider, err := credentials.NewSecretProviderWithConfig(ctx, demoSecretKeeperURL, credentials.ProviderConfig{CacheTTL: time.Minute})
	if err != nil {
		logger.Warn("could not open credential provider, continuing without an auth token", "error", err)
		return ""
	}
	defer secretProvider.Close()

	chain := credentials.NewChainProvider(
		credentials.NewEnvTokenProvider("BANKACCOUNT_DEMO_NATS_TOKEN", time.Minute),
		secretProvider,
	)
	creds, err := chain.GetCredentials(ctx)
	if err != nil {
		logger.Warn("could not resolve credentials, continuing without an auth token", "error", err)
		return ""
	}
	return creds.Token
}

func amountCommand(accountID, commandID, commandType string, amount decimal.Decimal) domain.Command {
	return domain.Command{
		CommandID:   commandID,
		AggregateID: accountID,
		Type:        commandType,
		Data:        bankaccount.NewAmountData(amount),
	}
}

func mustEvaluate(ctx context.Context, acct *aggregate.Instance, label string, cmd domain.Command) {
	res, err := acct.Evaluate(ctx, cmd)
	if err != nil {
		log.Fatalf("%s: %v", label, err)
	}
	fmt.Printf("   ✅ %s (events: %d)\n", label, len(res.Events))
}
