package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	shipmenttesting "github.com/wms-platform/shipment-service/pkg/testing"
)

type InboxIntegrationTestSuite struct {
	suite.Suite
	container *shipmenttesting.MongoDBContainer
	client    *mongo.Client
	db        *mongo.Database
	inbox     *Inbox
	ctx       context.Context
}

func (s *InboxIntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := shipmenttesting.NewMongoDBContainer(s.ctx)
	s.Require().NoError(err)
	s.container = container

	client, err := container.GetClient(s.ctx)
	s.Require().NoError(err)
	s.client = client
	s.db = client.Database("shipment_worker_test")
}

func (s *InboxIntegrationTestSuite) SetupTest() {
	s.inbox = NewInbox(s.db, "label-worker", time.Hour)
	s.Require().NoError(s.inbox.EnsureIndexes(s.ctx))
}

func (s *InboxIntegrationTestSuite) TearDownTest() {
	_ = s.db.Collection(processedMessagesCollection).Drop(s.ctx)
}

func (s *InboxIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Disconnect(s.ctx)
	}
	if s.container != nil {
		s.Require().NoError(s.container.Close(s.ctx))
	}
}

func TestInboxIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	suite.Run(t, new(InboxIntegrationTestSuite))
}

func (s *InboxIntegrationTestSuite) TestMarkAndCheck() {
	processed, err := s.inbox.IsProcessed(s.ctx, "msg-1")
	s.Require().NoError(err)
	s.False(processed)

	s.Require().NoError(s.inbox.MarkProcessed(s.ctx, "msg-1", "complete", ""))

	processed, err = s.inbox.IsProcessed(s.ctx, "msg-1")
	s.Require().NoError(err)
	s.True(processed)
}

func (s *InboxIntegrationTestSuite) TestMarkTwiceIsIdempotent() {
	s.Require().NoError(s.inbox.MarkProcessed(s.ctx, "msg-2", "deadletter", "EmptyLabelBlob"))
	s.Require().NoError(s.inbox.MarkProcessed(s.ctx, "msg-2", "deadletter", "EmptyLabelBlob"))

	count, err := s.db.Collection(processedMessagesCollection).CountDocuments(s.ctx, bson.M{"messageId": "msg-2"})
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *InboxIntegrationTestSuite) TestScopedByConsumerGroup() {
	s.Require().NoError(s.inbox.MarkProcessed(s.ctx, "msg-3", "complete", ""))

	other := NewInbox(s.db, "another-group", time.Hour)
	processed, err := other.IsProcessed(s.ctx, "msg-3")
	s.Require().NoError(err)
	s.False(processed)
}

func (s *InboxIntegrationTestSuite) TestExpiryIsRecorded() {
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.inbox.now = func() time.Time { return fixed }
	s.Require().NoError(s.inbox.MarkProcessed(s.ctx, "msg-4", "complete", ""))

	var stored ProcessedMessage
	err := s.db.Collection(processedMessagesCollection).FindOne(s.ctx, bson.M{"messageId": "msg-4"}).Decode(&stored)
	s.Require().NoError(err)
	s.True(fixed.Add(time.Hour).Equal(stored.ExpiresAt))
	s.Equal("label-worker", stored.ConsumerGroup)
}
