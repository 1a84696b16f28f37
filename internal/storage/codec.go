package storage

import (
	"encoding/json"
	"fmt"

	"spotwatch/internal/domain"
)

// encodeWorkload serializes the workload config; a nil config is stored as NULL.
func encodeWorkload(w *domain.WorkloadConfig) ([]byte, error) {
	if w == nil {
		return nil, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode workload config: %w", err)
	}
	return data, nil
}

func decodeWorkload(data []byte) (*domain.WorkloadConfig, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var w domain.WorkloadConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode workload config: %w", err)
	}
	return &w, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
