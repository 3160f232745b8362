//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package gateway provides interfaces and implementations for network
// front ends of the access control service.
//
// A gateway exposes the service to enforcement points and operators:
// commands and evaluations come in, decisions and audit data go out.
//
// # Available Implementations
//
//   - [rest]: HTTP/REST server
//
// # Usage
//
// Create and start a gateway:
//
//	svc, _ := core.NewAccessService(ctx)
//	server, _ := rest.CreateServer(svc, 8080)
//	defer server.Stop(ctx)
package gateway

import "context"

// Server is the interface for gateway servers that can be gracefully
// stopped.
//
// Implementations must ensure that [Stop] completes any in-flight
// requests before returning.
type Server interface {
	// Stop gracefully shuts down the server, waiting for active requests
	// to complete or until the context is cancelled.
	Stop(context.Context) error
}
