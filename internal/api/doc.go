// Package api implements the HTTP REST API for MealBridge Core.
//
// This package provides:
//   - Auth endpoints: login, signup, admin OTP step-up, refresh, logout
//   - User directory endpoints: profile, admin listing, activation control
//   - Admin audit trail queries and system statistics
//   - Identity gate middleware (bearer token → principal → role checks)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     per-IP rate limiting on auth routes)
//   - Prometheus metrics endpoint with HTTP and auth instrumentation
//
// # Architecture
//
// The API server sits between clients (consumer/vendor/NGO apps, the admin
// console) and the auth domain. Handlers stay thin: they parse and validate
// transport concerns, call into auth.Service or the repositories, and map
// domain errors onto the response envelope.
//
// # Response envelope
//
// Every response, success or failure, uses the same JSON shape:
//
//	{"success": bool, "message": string, "data": any}
//
// Domain sentinel errors are translated at this boundary — handlers never
// invent ad-hoc status codes. Messages on credential paths are deliberately
// coarse so responses cannot be used to enumerate accounts.
//
// # Security
//
// Protected routes require Authorization: Bearer <access token>. The identity
// gate decodes the token, rejects non-access purposes, consults the blacklist,
// and resolves the principal from the user store before any handler runs.
// Role restrictions compose on top (admin-only routes for user management,
// audit and stats).
package api
