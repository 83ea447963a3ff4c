package memory

import (
	"testing"

	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/storagetest"
)

func TestStreamConformance(t *testing.T) {
	storagetest.RunStream(t, func(*testing.T) storage.Stream { return NewStream() })
}

func TestAggregateStoreConformance(t *testing.T) {
	storagetest.RunAggregateStore(t, func(*testing.T) storage.AggregateStore { return NewAggregateStore() })
}

func TestContentStoreConformance(t *testing.T) {
	storagetest.RunContentStore(t, func(*testing.T) storage.ContentStore { return NewContentStore() })
}

func TestCheckpointStoreConformance(t *testing.T) {
	storagetest.RunCheckpointStore(t, func(*testing.T) storage.CheckpointStore { return NewCheckpointStore() })
}
