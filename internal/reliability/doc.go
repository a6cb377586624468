// Package reliability provides retry policies for broker operations that may
// fail transiently, such as the first connection of a service starting next
// to its broker.
//
// Example usage:
//
//	policy := NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 5)
//	policy.Retryable = rabbitmq.IsRetryable
//
//	err := Retry(ctx, policy, func(ctx context.Context) error {
//	    return client.StartConsuming(ctx)
//	})
package reliability
