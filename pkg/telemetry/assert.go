package telemetry

import "github.com/dataworks-io/sqlgate/pkg/tool"

var (
	_ tool.QueryRecorder     = (*Recorder)(nil)
	_ tool.KnowledgeRecorder = (*Recorder)(nil)
)
