package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	polako "github.com/Polako-Finance/polako-common"
	"github.com/Polako-Finance/polako-common/config"
	"github.com/Polako-Finance/polako-common/health"
	"github.com/Polako-Finance/polako-common/internal/logging"
	"github.com/Polako-Finance/polako-common/internal/reliability"
	"github.com/Polako-Finance/polako-common/internal/telemetry"
	"github.com/Polako-Finance/polako-common/messaging"
	"github.com/Polako-Finance/polako-common/rabbitmq"
	"github.com/Polako-Finance/polako-common/schema"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "polakoctl",
		Short: "Validate, publish and consume polako contract messages",
		Long: `polakoctl works with the message contracts and the RabbitMQ exchange shared
by polako services. Connection and contract settings are read from the
environment (RABBITMQ_*, CONTRACTS_DIR, SERVICE_NAME, ...).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		validateCmd(),
		envelopeCmd(),
		publishCmd(),
		consumeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runtime is what every command needs from the environment.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.Setup(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: cfg.ServiceName,
		Output:  os.Stderr,
	})
	if err != nil {
		return nil, err
	}

	tp, shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, tp: tp, shutdown: shutdown}, nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.shutdown(ctx); err != nil {
		rt.logger.Warn("failed to flush traces", "error", err)
	}
}

func (rt *runtime) validator() *schema.ContractValidator {
	store := schema.NewStore(afero.NewOsFs(), rt.cfg.ContractsDir, schema.WithStoreLogger(rt.logger))
	return schema.NewContractValidator(store, schema.WithValidatorLogger(rt.logger))
}

func readPayload(path string) (any, error) {
	raw, err := afero.ReadFile(afero.NewOsFs(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload %s is not valid JSON: %w", path, err)
	}
	return payload, nil
}

func validateCmd() *cobra.Command {
	var domain, messageType, file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a payload against its domain contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			payload, err := readPayload(file)
			if err != nil {
				return err
			}

			if err := rt.validator().Validate(domain, messageType, payload); err != nil {
				var verr *schema.ValidationError
				if errors.As(err, &verr) {
					for _, v := range verr.Violations {
						fmt.Fprintln(cmd.OutOrStdout(), "  -", v)
					}
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: valid\n", domain, messageType)
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Contract domain")
	cmd.Flags().StringVarP(&messageType, "type", "t", "", "Message type")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON payload file")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func envelopeCmd() *cobra.Command {
	var messageType, file, correlationID, causationID, sender string

	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Wrap a payload in an envelope and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			payload, err := readPayload(file)
			if err != nil {
				return err
			}

			if sender == "" {
				sender = rt.cfg.ServiceName
			}
			opts := []schema.EnvelopeOption{schema.WithSender(sender)}
			if correlationID != "" {
				opts = append(opts, schema.WithCorrelationID(correlationID))
			}
			if causationID != "" {
				opts = append(opts, schema.WithCausationID(causationID))
			}

			env, err := rt.validator().CreateEnvelope(messageType, payload, opts...)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(env, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&messageType, "type", "t", "", "Message type")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON payload file")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id")
	cmd.Flags().StringVar(&causationID, "causation-id", "", "Causation id")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender (defaults to SERVICE_NAME)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func publishCmd() *cobra.Command {
	var domain, messageType, routingKey, file, correlationID string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Validate a payload and publish it to the exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			payload, err := readPayload(file)
			if err != nil {
				return err
			}

			client, err := polako.NewClient(rt.cfg,
				polako.WithLogger(rt.logger),
				polako.WithTracerProvider(rt.tp),
			)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Disconnect(context.Background())

			var opts []schema.EnvelopeOption
			if correlationID != "" {
				opts = append(opts, schema.WithCorrelationID(correlationID))
			}

			if err := client.Publish(ctx, routingKey, payload, messageType, domain, opts...); err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", messageType, routingKey)
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Contract domain")
	cmd.Flags().StringVarP(&messageType, "type", "t", "", "Message type")
	cmd.Flags().StringVarP(&routingKey, "routing-key", "k", "", "Routing key")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON payload file")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id")
	for _, name := range []string{"domain", "type", "routing-key", "file"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func consumeCmd() *cobra.Command {
	var (
		messageTypes    []string
		domain          string
		handlerTimeout  time.Duration
		connectAttempts int
		retryDelay      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume and log messages from RABBITMQ_QUEUE until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle signals
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			interceptors := []messaging.Interceptor{
				messaging.NewLoggingInterceptor(rt.logger),
				messaging.NewTimeoutInterceptor(handlerTimeout),
			}
			if domain != "" {
				interceptors = append(interceptors, messaging.NewContractInterceptor(rt.validator(), domain))
			}

			client, err := polako.NewClient(rt.cfg,
				polako.WithLogger(rt.logger),
				polako.WithTracerProvider(rt.tp),
				polako.WithMetrics(reg),
				polako.WithInterceptors(interceptors...),
			)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			for _, messageType := range messageTypes {
				if err := client.RegisterHandler(messageType, logHandler(rt.logger, messageType)); err != nil {
					return err
				}
			}

			if rt.cfg.MetricsAddr != "" {
				checks := health.NewRegistry(
					health.NewBrokerChecker(client, rabbitmq.StateConsuming),
					health.NewContractsChecker(client.Validator().Store()),
					health.NewGoroutineChecker(5000, 20000),
				)
				srv := serveMetrics(rt.cfg.MetricsAddr, reg, checks, rt.logger)
				defer srv.Close()
			}

			// The broker may still be starting next to us.
			policy := startupPolicy(connectAttempts, retryDelay)
			err = reliability.Retry(ctx, policy, func(ctx context.Context) error {
				err := client.StartConsuming(ctx)
				if err != nil && rabbitmq.IsRetryable(err) {
					rt.logger.Warn("broker not ready, retrying", "error", err)
				}
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}

			<-ctx.Done()
			rt.logger.Info("shutting down")

			stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			return client.Disconnect(stopCtx)
		},
	}

	cmd.Flags().StringSliceVarP(&messageTypes, "type", "t", nil, "Message types to handle (repeatable)")
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Check inbound payloads against this contract domain")
	cmd.Flags().DurationVar(&handlerTimeout, "handler-timeout", 30*time.Second, "Deadline for each handler")
	cmd.Flags().IntVar(&connectAttempts, "connect-attempts", 5, "Connection attempts before giving up")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 0, "Fixed delay between connection attempts (default exponential backoff)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// startupPolicy retries retryable broker errors connectAttempts times in
// total, with a fixed delay when one is given.
func startupPolicy(connectAttempts int, retryDelay time.Duration) reliability.RetryPolicy {
	if retryDelay > 0 {
		policy := reliability.NewFixedDelay(retryDelay, connectAttempts-1)
		policy.Retryable = rabbitmq.IsRetryable
		return policy
	}
	policy := reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, connectAttempts-1)
	policy.Retryable = rabbitmq.IsRetryable
	return policy
}

func logHandler(logger *slog.Logger, messageType string) func(context.Context, json.RawMessage) error {
	return func(ctx context.Context, data json.RawMessage) error {
		logger.InfoContext(ctx, "received message",
			"messageType", messageType,
			"data", data,
		)
		return nil
	}
}

// serveMetrics exposes /metrics, /healthz (readiness) and /livez.
func serveMetrics(addr string, reg *prometheus.Registry, checks *health.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/healthz", health.NewHandler(checks, 5*time.Second))
	mux.Handle("/livez", health.LivenessHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
