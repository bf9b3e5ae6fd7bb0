// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides validators for client-supplied identifiers.
//
// Values accepted here are echoed in response headers and written to logs,
// so anything that could split a header or forge a log line is rejected.
package validation

import (
	"fmt"
	"regexp"
)

// requestIDPattern matches correlation IDs: UUIDs, ULIDs and dotted or
// colon-separated trace tokens. Max length: 128 characters.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidateRequestID validates a client-supplied X-Request-ID value.
//
// Valid IDs:
//   - 1-128 characters
//   - Letters, digits, '.', '_', ':' and '-'
//
// Example:
//
//	if err := validation.ValidateRequestID(c.GetHeader("X-Request-ID")); err != nil {
//	    id = idgen.Default()
//	}
func ValidateRequestID(id string) error {
	if id == "" {
		return fmt.Errorf("request id cannot be empty")
	}
	if !requestIDPattern.MatchString(id) {
		return fmt.Errorf("invalid request id format: %q (must be 1-128 alphanumeric chars, '.', '_', ':' or '-')", truncate(id, 32))
	}
	return nil
}

// truncate shortens s for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
