// Package model defines the auction DTOs shared by the hub client, the REST
// client, and the view reconciler.
//
// Conventions:
//   - Money: decimal.Decimal, written to the wire as JSON numbers
//   - Identifiers: strings as sent by the server (GUIDs in any casing)
//   - Durations: .NET TimeSpan strings decoded into TimeSpan
//   - Timestamps: RFC 3339, or zone-less .NET form interpreted as UTC
package model
