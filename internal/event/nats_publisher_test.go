package event

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logic"
)

type memMarker struct {
	mu  sync.Mutex
	ids []string
}

func (m *memMarker) MarkPublished(_ context.Context, ids []string) error {
	m.mu.Lock()
	m.ids = append(m.ids, ids...)
	m.mu.Unlock()
	return nil
}

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNatsPublisher(t *testing.T) {
	ns := runServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("tgs.audit.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	marker := &memMarker{}
	p, err := NewNatsPublisher(config.NatsConfig{Enabled: true, URL: ns.ClientURL(), SubjectPrefix: "tgs.audit"}, marker)
	require.NoError(t, err)
	defer p.Close()

	rec := logic.Record{ID: "r1", Type: logic.RecordFundsReleased, ProposalID: 9, MilestoneIndex: 0, Amount: 100, Detail: "0xalice"}
	require.NoError(t, p.Publish(context.Background(), []logic.Record{rec}))

	select {
	case msg := <-msgs:
		assert.Equal(t, "tgs.audit.FundsReleased", msg.Subject)
		var got logic.Record
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, uint64(100), got.Amount)
		assert.Equal(t, uint64(9), got.ProposalID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	assert.Equal(t, []string{"r1"}, marker.ids)
}
