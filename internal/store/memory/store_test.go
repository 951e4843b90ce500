package memory

import (
	"testing"

	"recovery-service/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, New())
}
