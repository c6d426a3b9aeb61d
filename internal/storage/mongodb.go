package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoDisconnectTimeout = 10 * time.Second

func openMongo(ctx context.Context, uri, database string) (*DB, error) {
	if uri == "" {
		return nil, errors.New("mongodb: url is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetAppName("chatgate"))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}
	return &DB{
		Kind:  KindMongoDB,
		Mongo: client.Database(database),
		release: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
			defer cancel()
			return client.Disconnect(ctx)
		},
	}, nil
}
