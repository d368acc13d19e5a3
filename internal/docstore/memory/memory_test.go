package memory

import (
	"testing"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
	"github.com/vovakirdan/roomchat-server/internal/docstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
