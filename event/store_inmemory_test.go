package event_test

import (
	"testing"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/integrationtest"
)

func TestInMemoryStore(t *testing.T) {
	integrationtest.EventStore(event.NewInMemoryStore())(t)
}
