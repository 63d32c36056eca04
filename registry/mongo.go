package registry

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rbaliyan/clusterbus"
)

// subDoc is one address's subscriber set, persisted as a single document
// keyed by address so Add/Remove are single-document $addToSet/$pull
// updates rather than a read-modify-write round trip.
type subDoc struct {
	Address string   `bson:"_id"`
	Nodes   []string `bson:"nodes"`
}

// Mongo is a Registry backend shared across the cluster via a MongoDB
// collection, one document per address holding the "host:port" set of its
// current holders. It is an alternative to Redis for deployments that
// already run MongoDB as their shared state store, grounded on the
// teacher's checkpoint/outbox MongoDB stores' document-per-key shape and
// $addToSet/$pull update style.
type Mongo struct {
	collection *mongo.Collection
}

// NewMongo wraps an existing collection. The collection is not closed by
// Close; callers that own the client lifecycle close it themselves.
func NewMongo(collection *mongo.Collection) *Mongo {
	return &Mongo{collection: collection}
}

// Indexes returns the index models this collection should carry. Since
// every document is already keyed by address via _id, no extra index is
// required for Get; this only exists so RemoveAllForNode's "nodes" array
// scans can use one, mirroring the teacher's explicit Indexes() methods.
func (m *Mongo) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "nodes", Value: 1}}},
	}
}

func (m *Mongo) Add(ctx context.Context, address string, node clusterbus.NodeAddress) error {
	_, err := m.collection.UpdateByID(ctx, address,
		bson.M{"$addToSet": bson.M{"nodes": node.String()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: add %s: %v", clusterbus.ErrRegistryUnavailable, address, err)
	}
	return nil
}

func (m *Mongo) Remove(ctx context.Context, address string, node clusterbus.NodeAddress) (bool, error) {
	res, err := m.collection.UpdateByID(ctx, address,
		bson.M{"$pull": bson.M{"nodes": node.String()}},
	)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return false, nil
		}
		return false, fmt.Errorf("%w: remove %s: %v", clusterbus.ErrRegistryUnavailable, address, err)
	}
	if res.ModifiedCount == 0 {
		return false, nil
	}
	_, _ = m.collection.DeleteOne(ctx, bson.M{"_id": address, "nodes": bson.A{}})
	return true, nil
}

func (m *Mongo) RemoveAllForNode(ctx context.Context, node clusterbus.NodeAddress) error {
	member := node.String()
	if _, err := m.collection.UpdateMany(ctx,
		bson.M{"nodes": member},
		bson.M{"$pull": bson.M{"nodes": member}},
	); err != nil {
		return fmt.Errorf("%w: removeAllForNode: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	if _, err := m.collection.DeleteMany(ctx, bson.M{"nodes": bson.A{}}); err != nil {
		return fmt.Errorf("%w: removeAllForNode cleanup: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, address string) ([]clusterbus.NodeAddress, error) {
	var doc subDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": address}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", clusterbus.ErrRegistryUnavailable, address, err)
	}
	out := make([]clusterbus.NodeAddress, 0, len(doc.Nodes))
	for _, member := range doc.Nodes {
		addr, err := clusterbus.ParseNodeAddress(member)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

func (m *Mongo) Close() error { return nil }

var _ clusterbus.Registry = (*Mongo)(nil)
