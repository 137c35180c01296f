package memory

import (
	"testing"
	"time"

	"github.com/tjfontaine/reqguard/internal/storage"
	"github.com/tjfontaine/reqguard/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, now func() time.Time) storage.Store {
		s := New()
		s.SetClock(now)
		return s
	})
}
