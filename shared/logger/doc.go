// Copyright 2025 shiioo
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for control-plane
components.

# Overview

The logger package writes each entry as one JSON object through the
standard library's log package, so entries go to stderr unless
log.SetOutput redirects them, and each line carries log's date/time prefix
ahead of the JSON.

Each entry includes:
  - Timestamp (RFC3339Nano)
  - Level (DEBUG, INFO, WARN, ERROR)
  - Component name (workflow-executor, capacity-broker, ...)
  - Instance ID and container name
  - Tenant/run/step correlation ids
  - Custom fields

# Usage

	log := logger.New("workflow-executor")
	log.Info(logger.Ctx{TenantID: t, RunID: r}, "run started", map[string]interface{}{
	    "step_count": 4,
	})

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
