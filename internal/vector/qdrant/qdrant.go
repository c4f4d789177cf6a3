// Package qdrant implements vector.Index using Qdrant over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/astradocs/astra/internal/vector"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Index implements vector.Index backed by a Qdrant collection.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Qdrant-backed index.
func New(host string, port int, collection string) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if needed.
// An already-existing collection is success.
func (x *Index) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := x.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: x.collection,
	})
	if err == nil && exists.GetResult().GetExists() {
		return nil
	}

	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, id string, vec []float32, payload map[string]string) error {
	fields := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		fields[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}

	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}}},
			Payload: fields,
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) error {
	_, err := x.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: x.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (x *Index) Search(ctx context.Context, vec []float32, k int) ([]vector.Hit, error) {
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         vec,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]vector.Hit, len(resp.Result))
	for i, pt := range resp.Result {
		hits[i] = vector.Hit{
			ID:    pt.Id.GetUuid(),
			Score: pt.Score,
		}
	}
	return hits, nil
}

func (x *Index) Close() error {
	return x.conn.Close()
}

var _ vector.Index = (*Index)(nil)
