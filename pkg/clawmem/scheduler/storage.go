package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
)

const metaKeyPrefix = "scheduler:job:"

// MetaStore is a key/value store; *memory.Store satisfies it.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

// MetaStorage persists job state as JSON in a MetaStore.
type MetaStorage struct {
	meta MetaStore
}

// NewMetaStorage returns a JobStorage backed by meta.
func NewMetaStorage(meta MetaStore) *MetaStorage {
	return &MetaStorage{meta: meta}
}

// Save stores the job state.
func (m *MetaStorage) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return m.meta.SetMeta(ctx, metaKeyPrefix+job.ID, string(data))
}

// Load returns the stored state of a job.
func (m *MetaStorage) Load(ctx context.Context, id string) (*Job, bool, error) {
	raw, ok, err := m.meta.GetMeta(ctx, metaKeyPrefix+id)
	if err != nil || !ok {
		return nil, false, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, true, nil
}
