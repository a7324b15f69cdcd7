package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishAfterStopDropsWithoutBlocking(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewProducer([]string{"127.0.0.1:1"}, "stock.changed", 1, zap.New(core))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.WaitClosed()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			p.Publish([]byte("product:a"), []byte(`{}`))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after the producer stopped")
	}

	dropped := logs.FilterMessage("kafka producer stopped, message dropped").All()
	require.Len(t, dropped, 3)
	assert.Equal(t, "product:a", dropped[0].ContextMap()["key"])
}

func TestCloseTwiceThenPublish(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "stock.changed", 4, nil)
	p.Start(context.Background())

	assert.NotPanics(t, func() {
		p.Close()
		p.Close()
	})
	p.WaitClosed()

	assert.NotPanics(t, func() { p.Publish([]byte("k"), []byte("v")) })
}
