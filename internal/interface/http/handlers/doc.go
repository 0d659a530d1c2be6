// Package handlers contains HTTP building blocks shared by the engine API:
// health checks, the producer webhook and reusable middleware.
//
// # Health Checks
//
// CompositeHealthChecker runs named probes in parallel, each under its own
// timeout. Critical probes decide readiness; optional ones only mark the
// service degraded:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("storage", store.Ping)
//	checker.AddOptionalCheck("redis", cache.Ping)
//
// # Producer Webhook
//
// Producers (connections, events, resources) report their primary action and
// the webhook awards the standard amount for the reason:
//
//	POST /api/v1/events
//	{"reason": "accepted_connection", "user_id": "u1", "reference_id": "conn-9"}
//
// Reasons that move a user's activity counters also trigger an achievement
// evaluation.
//
// # Middleware
//
// Every middleware is a mux.MiddlewareFunc and reports errors through the
// ErrorWriter the server hands it, so rejections use the API envelope.
// Write routes sit behind RequireAPIKey and LimitBody; RateLimit counts
// requests per client IP in fixed one-minute windows.
package handlers
