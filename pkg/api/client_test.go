package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandloom/personachat/pkg/api"
	"github.com/brandloom/personachat/pkg/testutil"
)

func TestStartSession(t *testing.T) {
	t.Run("returns the session id and prior messages", func(t *testing.T) {
		server := testutil.NewFakePersonaServer()
		defer server.Close()
		server.SetBootstrapMessages([]api.BootstrapMessage{
			{ID: "u0", Role: "user", Content: "earlier"},
		})

		client := api.NewClient(server.URL())
		bootstrap, err := client.StartSession(context.Background(), "aria")
		require.NoError(t, err)

		assert.Equal(t, server.SessionID(), bootstrap.SessionID)
		require.Len(t, bootstrap.Messages, 1)
		assert.Equal(t, "u0", bootstrap.Messages[0].ID)
	})

	t.Run("rejects an empty session id from the server", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"sessionId":"","messages":[]}`))
		}))
		defer srv.Close()

		_, err := api.NewClient(srv.URL).StartSession(context.Background(), "aria")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty sessionId")
	})

	t.Run("surfaces the server error message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"persona suspended"}`, http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := api.NewClient(srv.URL).StartSession(context.Background(), "aria")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 403")
		assert.Contains(t, err.Error(), "persona suspended")
	})
}

func TestInsightEndpoints(t *testing.T) {
	server := testutil.NewFakePersonaServer()
	defer server.Close()
	client := api.NewClient(server.URL())
	ctx := context.Background()
	sessionID := server.SessionID()

	insight, err := client.CreateInsight(ctx, "aria", sessionID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", insight.MessageID)
	assert.NotEmpty(t, insight.ID)

	list, err := client.ListInsights(ctx, "aria", sessionID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, insight.ID, list[0].ID)

	require.NoError(t, client.DeleteInsight(ctx, "aria", sessionID, insight.ID))

	list, err = client.ListInsights(ctx, "aria", sessionID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestContextEndpoints(t *testing.T) {
	server := testutil.NewFakePersonaServer()
	defer server.Close()
	server.SetAvailableContext([]api.ContextItem{
		{ID: "c1", SourceType: "document", SourceName: "brand guide"},
		{ID: "c2", SourceType: "campaign", SourceName: "spring launch"},
	})

	client := api.NewClient(server.URL())
	ctx := context.Background()
	sessionID := server.SessionID()

	catalogue, err := client.AvailableContext(ctx, "aria")
	require.NoError(t, err)
	require.Len(t, catalogue, 2)

	require.NoError(t, client.ApplyContext(ctx, "aria", sessionID, catalogue[:1]))

	attached, err := client.ListContext(ctx, "aria", sessionID)
	require.NoError(t, err)
	require.Len(t, attached, 1)
	assert.Equal(t, "c1", attached[0].ID)

	require.NoError(t, client.RemoveContext(ctx, "aria", sessionID, "c1"))

	attached, err = client.ListContext(ctx, "aria", sessionID)
	require.NoError(t, err)
	assert.Empty(t, attached)
}
