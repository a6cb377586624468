// Package messaging moves envelopes between services.
//
// A Router turns raw deliveries into handler calls:
//
//	router := messaging.NewRouter(messaging.WithRouterLogger(logger))
//	router.RegisterHandler("SuccessEmail", messaging.Typed(func(ctx context.Context, m SuccessEmail) error {
//		return mailer.Send(ctx, m)
//	}))
//
// Every delivery is acknowledged exactly once. Malformed, unroutable and
// failed messages are logged and dropped, or handed to a DeadLetterSink when
// one is configured; nothing is requeued.
//
// A Publisher validates a payload against its domain contract, wraps it in
// an envelope and hands the bytes to the broker. Nothing is sent unless both
// the payload and the envelope validate.
package messaging
