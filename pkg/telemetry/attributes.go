// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans and metrics.
const (
	AttrAgentName  = "agent.name"
	AttrAgentEvent = "agent.event"

	AttrStageName   = "tgads.stage.name"
	AttrStageStatus = "tgads.stage.status"
	AttrStageMs     = "tgads.stage.duration_ms"

	AttrRequestID = "tgads.request.id"
	AttrProduct   = "tgads.brief.product"
	AttrQAStatus  = "tgads.qa.status"

	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

// StageAttributes describes a finished pipeline stage.
func StageAttributes(stage, status string, elapsed time.Duration) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStageName, stage),
		attribute.String(AttrStageStatus, status),
		attribute.Int64(AttrStageMs, elapsed.Milliseconds()),
	}
}

// RunAttributes describes a pipeline run.
func RunAttributes(requestID, product string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrRequestID, requestID)}
	if product != "" {
		attrs = append(attrs, attribute.String(AttrProduct, product))
	}
	return attrs
}
