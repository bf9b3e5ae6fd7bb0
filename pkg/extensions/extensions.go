// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the optional hooks a deployment can plug into
// the mutant service without modifying it.
//
// # Description
//
// The service depends only on the interfaces declared here. The default
// build wires no-op implementations; an operator who needs an audit trail
// of newly classified sequences injects a concrete AuditLogger:
//
//	opts := extensions.DefaultOptions().
//	    WithAudit(extensions.NewSlogAuditLogger(logger.Slog()))
//	svc, err := service.New(store, opts)
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points passed to service constructors.
// Nil fields are replaced with no-op defaults by Normalize.
type ServiceOptions struct {
	// AuditLogger records newly created sequence records.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op implementations.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Normalize returns a copy of opts with every nil field set to its no-op
// default.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
