// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IndexTask represents the data structure for a source indexing job.
// OwnerKey 已经是哈希后的形态，任务载荷中不携带原始账号 ID。
type IndexTask struct {
	SourceID   string `json:"source_id"`
	OwnerKey   string `json:"owner_key"`
	SourceName string `json:"source_name"`
	ObjectName string `json:"object_name"`
}
