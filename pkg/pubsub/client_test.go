package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/proofledger/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "distillery-prod"}

	assert.Equal(t, "projects/distillery-prod/topics/ledger", c.topicResourceName(" ledger "))
	assert.Equal(t, "projects/other/topics/ledger", c.topicResourceName("projects/other/topics/ledger"))
	assert.Equal(t, "projects/distillery-prod/subscriptions/ledger-reconcile", c.subscriptionResourceName("ledger-reconcile"))
	assert.Empty(t, c.subscriptionResourceName(""))

	var nilClient *Client
	assert.Empty(t, nilClient.topicResourceName("ledger"))
	assert.Nil(t, nilClient.LedgerPublisher())
	assert.Nil(t, nilClient.LedgerSubscription())
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{LedgerTopic: "t"}, false, nil)
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestPingUninitialized(t *testing.T) {
	var c *Client
	require.Error(t, c.Ping(context.Background()))
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{ProjectID: "p"}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/secrets/sa.json"}), 1)
}
