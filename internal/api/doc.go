// Package api provides the REST client for the auction backend.
//
// Every endpoint wraps its payload in an envelope:
//
//	{"success": true, "message": "...", "data": ..., "errors": ["..."]}
//
// Endpoints (relative to the configured base URL):
//   - GET  /api/Auctions, /api/Auctions/{id}, /api/Auctions/category/{id}
//   - GET  /api/Categories
//   - GET  /api/Auctions/{id}/bids, POST /api/Auctions/{id}/bids
//   - POST /api/Auth/login, /api/Auth/register, /api/Auth/refresh-token, /api/Auth/logout
package api
