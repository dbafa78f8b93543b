// Package domain defines the core business types for the EngageX dispatch tier.
//
// Types in this package are value objects plus the pure state-machine rules
// that govern them (campaign lifecycle, recipient delivery lifecycle). They
// carry no database, HTTP, or context dependencies and are the shared language
// between handlers, services, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and transition methods are allowed (they're pure functions on the type)
//   - Cross-entity references are ids, never pointers to other entities
package domain
