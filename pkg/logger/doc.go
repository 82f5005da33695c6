// Package logger builds *slog.Logger instances from functional options and
// keeps attribute naming consistent across the billing service.
//
// New picks a text or JSON handler, redacts credential and signature
// attributes, and runs registered ContextExtractor callbacks on every record
// so request-scoped values such as the request id show up without being
// passed around explicitly.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "billingd"),
//	    logger.WithContextExtractors(requestid.LogExtractor()),
//	)
//	log.InfoContext(ctx, "subscription reconciled",
//	    logger.Provider("stripe"),
//	    logger.UserID(userID),
//	    logger.Result("updated"),
//	)
//
// Helpers for identifiers (CustomerID, SubscriptionID, EventID, Plan) and
// errors (Error, Errors) return an empty Attr for zero values, so call sites
// need no nil or empty checks.
package logger
