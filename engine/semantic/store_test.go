package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rateprof/profrag/engine/domain"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	countReq   *pb.CountPoints
	countResp  *pb.CountResponse
	countErr   error
	indexReq   *pb.CreateFieldIndexCollection
	indexErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	m.countReq = in
	return m.countResp, m.countErr
}
func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.indexReq = in
	return &pb.PointsOperationResponse{}, m.indexErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	createReq *pb.CreateCollection
	createErr error
	getResp   *pb.GetCollectionInfoResponse
	getErr    error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return m.getResp, m.getErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func completed() *pb.PointsOperationResponse {
	return &pb.PointsOperationResponse{Result: &pb.UpdateResult{Status: pb.UpdateStatus_Completed}}
}

// --- Tests ---

func TestNewWithClients_Close(t *testing.T) {
	ix := NewWithClients(&mockPoints{}, &mockCollections{}, "rag")
	if ix.Name() != "rag" {
		t.Fatalf("name = %q", ix.Name())
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureIndex_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "rag"}}},
	}
	ix := NewWithClients(&mockPoints{}, cols, "rag")
	if err := ix.EnsureIndex(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.createReq != nil {
		t.Fatal("create should not be called")
	}
}

func TestEnsureIndex_CreatesCosine(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	ix := NewWithClients(pts, cols, "rag")
	if err := ix.EnsureIndex(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 768 || params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("wrong params: %v", params)
	}
	if pts.indexReq.GetFieldName() != KeyNamespace {
		t.Errorf("namespace field not indexed: %v", pts.indexReq)
	}
}

func TestEnsureIndex_Errors(t *testing.T) {
	ix := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "rag")
	if err := ix.EnsureIndex(context.Background(), 4); err == nil {
		t.Fatal("expected list error")
	}

	ix = NewWithClients(&mockPoints{}, &mockCollections{listResp: &pb.ListCollectionsResponse{}, createErr: errors.New("exists")}, "rag")
	err := ix.EnsureIndex(context.Background(), 4)
	var re *domain.RemoteServiceError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteServiceError, got %v", err)
	}
}

func TestUpsert_Empty(t *testing.T) {
	ix := NewWithClients(&mockPoints{}, &mockCollections{}, "rag")
	n, err := ix.Upsert(context.Background(), nil, "ns1")
	if err != nil || n != 0 {
		t.Fatalf("got %d, %v", n, err)
	}
}

func TestUpsert_PayloadAndID(t *testing.T) {
	pts := &mockPoints{upsertResp: completed()}
	ix := NewWithClients(pts, &mockCollections{}, "rag")

	records := []Record{{
		ID:     "Prof. Jane Doe",
		Values: []float32{1, 0, 0, 0},
		Metadata: map[string]any{
			"review":  "great",
			"subject": "Math",
			"stars":   4.5,
		},
	}}
	n, err := ix.Upsert(context.Background(), records, "ns1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("upserted = %d, want 1", n)
	}

	if !pts.upsertReq.GetWait() {
		t.Error("upsert must wait")
	}
	p := pts.upsertReq.GetPoints()[0]
	if got, want := p.GetId().GetUuid(), PointID("ns1", "Prof. Jane Doe"); got != want {
		t.Errorf("id = %s, want %s", got, want)
	}
	pl := p.GetPayload()
	if pl[KeyVectorID].GetStringValue() != "Prof. Jane Doe" {
		t.Errorf("vector_id = %v", pl[KeyVectorID])
	}
	if pl[KeyNamespace].GetStringValue() != "ns1" {
		t.Errorf("namespace = %v", pl[KeyNamespace])
	}
	if pl["stars"].GetDoubleValue() != 4.5 || pl["subject"].GetStringValue() != "Math" {
		t.Errorf("metadata = %v", pl)
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("dimension mismatch")}
	ix := NewWithClients(pts, &mockCollections{}, "rag")

	n, err := ix.Upsert(context.Background(), []Record{{ID: "a", Values: []float32{1}}}, "ns1")
	if err == nil || n != 0 {
		t.Fatalf("got %d, %v", n, err)
	}
	var re *domain.RemoteServiceError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteServiceError, got %T", err)
	}
}

func TestUpsert_UnknownStatus(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{Result: &pb.UpdateResult{Status: pb.UpdateStatus_ClockRejected}}}
	ix := NewWithClients(pts, &mockCollections{}, "rag")
	if _, err := ix.Upsert(context.Background(), []Record{{ID: "a", Values: []float32{1}}}, "ns1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPointID_Deterministic(t *testing.T) {
	if PointID("ns1", "a") != PointID("ns1", "a") {
		t.Fatal("point id must be stable")
	}
	if PointID("ns1", "a") == PointID("ns2", "a") {
		t.Fatal("namespaces must not collide")
	}
}

func TestQuery_FiltersNamespace(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{{
				Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
				Score: 0.95,
				Payload: map[string]*pb.Value{
					KeyVectorID:  {Kind: &pb.Value_StringValue{StringValue: "Prof. Jane Doe"}},
					KeyNamespace: {Kind: &pb.Value_StringValue{StringValue: "ns1"}},
					"review":     {Kind: &pb.Value_StringValue{StringValue: "great"}},
					"stars":      {Kind: &pb.Value_DoubleValue{DoubleValue: 4}},
				},
			}},
		},
	}
	ix := NewWithClients(pts, &mockCollections{}, "rag")

	got, err := ix.Query(context.Background(), []float32{1, 0}, 5, "ns1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReq.GetLimit() != 5 {
		t.Errorf("limit = %d", pts.searchReq.GetLimit())
	}
	cond := pts.searchReq.GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != KeyNamespace || cond.GetMatch().GetKeyword() != "ns1" {
		t.Errorf("filter = %v", cond)
	}
	if len(got) != 1 || got[0].ID != "Prof. Jane Doe" || got[0].Score != 0.95 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Metadata["review"] != "great" || got[0].Metadata["stars"] != 4.0 {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
	if _, ok := got[0].Metadata[KeyNamespace]; ok {
		t.Error("namespace should not leak into metadata")
	}
}

func TestQuery_Error(t *testing.T) {
	ix := NewWithClients(&mockPoints{searchErr: errors.New("fail")}, &mockCollections{}, "rag")
	if _, err := ix.Query(context.Background(), []float32{1}, 5, "ns1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStats(t *testing.T) {
	total := uint64(10)
	cols := &mockCollections{getResp: &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{
		PointsCount: &total,
		Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{Size: 768}}},
		}},
	}}}
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 3}}}
	ix := NewWithClients(pts, cols, "rag")

	st, err := ix.Stats(context.Background(), "ns1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Dimension != 768 || st.TotalPoints != 10 || st.NamespacePoints != 3 {
		t.Errorf("stats = %+v", st)
	}
	if !pts.countReq.GetExact() {
		t.Error("count should be exact")
	}
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]pb.Distance{"": pb.Distance_Cosine, "cosine": pb.Distance_Cosine, "dot": pb.Distance_Dot, "euclid": pb.Distance_Euclid} {
		got, err := ParseMetric(in)
		if err != nil || got != want {
			t.Errorf("ParseMetric(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMetric("manhattan"); err == nil {
		t.Error("expected error")
	}
}
