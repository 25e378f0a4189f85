package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/workflow"
)

func TestHandler_SendsToRegisteredNotifier(t *testing.T) {
	var receivedBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		receivedBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := New()
	notifier := &webhookNotifier{
		client:    srv.Client(),
		allowList: []string{"127.0.0.1"},
		payload: func(message string, fields map[string]interface{}) interface{} {
			return map[string]interface{}{"text": message}
		},
	}
	h.Register("slack", notifier)

	step := workflow.StepDefinition{ID: "n", Target: "slack", Parameters: workflow.ValueMapFromNative(map[string]interface{}{
		"target":  srv.URL,
		"message": "deploy finished",
	})}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	out, err := h.Execute(context.Background(), step, run)
	require.NoError(t, err)
	ack, _ := out["acknowledgement"].AsString()
	assert.Contains(t, ack, "200")
	assert.Contains(t, receivedBody, "deploy finished")
}

func TestHandler_UnknownNotifierErrors(t *testing.T) {
	h := New()
	step := workflow.StepDefinition{ID: "n", Target: "pagerduty", Parameters: workflow.ValueMapFromNative(map[string]interface{}{
		"target": "https://example.com/hook", "message": "hi",
	})}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	_, err := h.Execute(context.Background(), step, run)
	assert.Error(t, err)
}
