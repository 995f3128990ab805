package models

// Status summarises the service state, index contents and key settings.
type Status struct {
	State          string `json:"state"`
	Passages       int    `json:"passages"`
	Documents      int64  `json:"documents"`
	Dimensions     int    `json:"dimensions"`
	RetrievalMode  string `json:"retrieval_mode"`
	Embedding      string `json:"embedding_provider"`
	LLM            string `json:"llm_provider"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	DatabasePath   string `json:"database_path,omitempty"`
	DiskUsageBytes int64  `json:"disk_usage_bytes,omitempty"`
}
