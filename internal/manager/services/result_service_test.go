package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-inspection-service/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	fail   bool
}

func (n *recordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("webhook down")
	}
	n.events = append(n.events, ev)
	return nil
}

func TestHandleCompletion_DeliversNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	s := NewResultService(nil, notifier, zerolog.Nop())

	payload := []byte(`{"execution_id":42,"task_id":7,"tenant_id":3,"status":"failed","error_class":"PermissionError"}`)
	s.handleCompletion(context.Background(), payload)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, uint(42), ev.ExecutionID)
	assert.Equal(t, uint(7), ev.TaskID)
	assert.Equal(t, uint(3), ev.TenantID)
	assert.Equal(t, "failed", ev.Status)
	assert.Equal(t, "PermissionError", ev.ErrorClass)
}

func TestHandleCompletion_BadPayloadDropped(t *testing.T) {
	notifier := &recordingNotifier{}
	s := NewResultService(nil, notifier, zerolog.Nop())

	s.handleCompletion(context.Background(), []byte("not json"))
	assert.Empty(t, notifier.events)
}

func TestHandleCompletion_NotifierFailureDropped(t *testing.T) {
	notifier := &recordingNotifier{fail: true}
	s := NewResultService(nil, notifier, zerolog.Nop())

	// delivery failure is logged and dropped, never panics or retries
	payload := []byte(`{"execution_id":1,"task_id":1,"tenant_id":1,"status":"succeeded"}`)
	s.handleCompletion(context.Background(), payload)
	assert.Empty(t, notifier.events)
}
