// Package app composes the storefront: it wires the catalog, purchase,
// ownership, activation and notification reconciliation services onto their
// stores and manages the lifecycle of background jobs.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── audit/              # Journal of payment notification decisions
//	├── domain/             # Plain data types (product, purchase, ownership, user)
//	├── storage/            # Store interfaces and the memory, SQL and redis stores
//	├── services/           # Business logic, one package per concern
//	├── httpapi/            # HTTP handlers and routing
//	├── runtime/            # Config driven process wiring and HTTP server
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/storefront
//	      │
//	      ▼
//	internal/app/runtime ──► internal/config
//	      │
//	      ▼
//	internal/app (composition) ──► internal/app/httpapi
//	      │
//	      ├──► internal/app/services/*
//	      │           │
//	      │           └──► internal/app/storage (interfaces)
//	      │
//	      └──► internal/app/storage/{memory,sqlstore,rediscache}
package app
