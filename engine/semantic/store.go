// Package semantic stores review vectors in Qdrant. Namespaces are a payload
// field on each point; every read filters on it.
package semantic

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rateprof/profrag/engine/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const service = "vector_index"

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Options configures a connection to Qdrant.
type Options struct {
	Addr       string
	APIKey     string
	TLS        bool
	Collection string
	// Metric is one of cosine, dot, euclid. Empty means cosine.
	Metric string
}

// Index is the sole owner of all Qdrant operations.
type Index struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	distance    pb.Distance
}

// New connects to Qdrant over gRPC. The connection is lazy; the first RPC
// surfaces an unreachable server.
func New(opts Options) (*Index, error) {
	dist, err := ParseMetric(opts.Metric)
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}

	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", opts.Addr, err)
	}
	return &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  opts.Collection,
		distance:    dist,
	}, nil
}

// NewWithClients builds an Index over existing clients, without a connection
// of its own.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *Index {
	return &Index{points: points, collections: collections, collection: collection, distance: pb.Distance_Cosine}
}

// Close closes the underlying gRPC connection.
func (ix *Index) Close() error {
	if ix.conn == nil {
		return nil
	}
	return ix.conn.Close()
}

// Name returns the collection name.
func (ix *Index) Name() string { return ix.collection }

// ParseMetric maps a metric name to a Qdrant distance.
func ParseMetric(s string) (pb.Distance, error) {
	switch strings.ToLower(s) {
	case "", "cosine":
		return pb.Distance_Cosine, nil
	case "dot", "dotproduct":
		return pb.Distance_Dot, nil
	case "euclid", "euclidean":
		return pb.Distance_Euclid, nil
	default:
		return 0, fmt.Errorf("semantic: unknown metric %q", s)
	}
}

// PointID derives the Qdrant point id for a vector id. The same pair always
// maps to the same point, so a repeated upsert overwrites.
func PointID(namespace, vectorID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+vectorID)).String()
}

// EnsureIndex creates the collection with dims-sized vectors if it does not
// exist, plus a keyword index on the namespace field.
func (ix *Index) EnsureIndex(ctx context.Context, dims int) error {
	list, err := ix.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return domain.NewRemoteError(service, "list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == ix.collection {
			return nil
		}
	}

	_, err = ix.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: ix.distance,
				},
			},
		},
	})
	if err != nil {
		return domain.NewRemoteError(service, "create collection "+ix.collection, err)
	}

	wait := true
	_, err = ix.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: ix.collection,
		Wait:           &wait,
		FieldName:      KeyNamespace,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return domain.NewRemoteError(service, "index namespace field", err)
	}
	return nil
}

// DeleteIndex drops the collection.
func (ix *Index) DeleteIndex(ctx context.Context) error {
	_, err := ix.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: ix.collection})
	if err != nil {
		return domain.NewRemoteError(service, "delete collection "+ix.collection, err)
	}
	return nil
}

// Upsert writes records into namespace in one call and returns how many
// points the server applied.
func (ix *Index) Upsert(ctx context.Context, records []Record, namespace string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = toValue(v)
		}
		payload[KeyVectorID] = toValue(r.ID)
		payload[KeyNamespace] = toValue(namespace)

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(namespace, r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Values},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	resp, err := ix.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: ix.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return 0, domain.NewRemoteError(service, fmt.Sprintf("upsert %d points", len(records)), err)
	}

	switch st := resp.GetResult().GetStatus(); st {
	case pb.UpdateStatus_Completed, pb.UpdateStatus_Acknowledged:
		return len(points), nil
	default:
		return 0, domain.NewRemoteError(service, "upsert", fmt.Errorf("update status %s", st))
	}
}

// Query returns the topK nearest points in namespace, with metadata.
func (ix *Index) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	resp, err := ix.points.Search(ctx, &pb.SearchPoints{
		CollectionName: ix.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         namespaceFilter(namespace),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, domain.NewRemoteError(service, "query", err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		m := Match{Score: p.GetScore(), Metadata: make(map[string]any)}
		for k, v := range p.GetPayload() {
			switch k {
			case KeyVectorID:
				m.ID = v.GetStringValue()
			case KeyNamespace:
			default:
				m.Metadata[k] = fromValue(v)
			}
		}
		if m.ID == "" {
			m.ID = p.GetId().GetUuid()
		}
		matches[i] = m
	}
	return matches, nil
}

// Stats reports the collection's vector size and point counts.
func (ix *Index) Stats(ctx context.Context, namespace string) (Stats, error) {
	info, err := ix.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: ix.collection})
	if err != nil {
		return Stats{}, domain.NewRemoteError(service, "describe", err)
	}

	exact := true
	count, err := ix.points.Count(ctx, &pb.CountPoints{
		CollectionName: ix.collection,
		Filter:         namespaceFilter(namespace),
		Exact:          &exact,
	})
	if err != nil {
		return Stats{}, domain.NewRemoteError(service, "count", err)
	}

	res := info.GetResult()
	return Stats{
		Dimension:       int(res.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
		TotalPoints:     res.GetPointsCount(),
		NamespacePoints: count.GetResult().GetCount(),
	}, nil
}

func namespaceFilter(namespace string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{fieldMatch(KeyNamespace, namespace)}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(tv)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
