package e2e

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/rowguard/internal/handlers"
	"github.com/asakaida/rowguard/internal/infrastructure/metrics"
	"github.com/asakaida/rowguard/internal/repositories/memory"
	"github.com/asakaida/rowguard/internal/services"
	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/evaluation"
	"github.com/asakaida/rowguard/internal/services/macro"
)

const bufSize = 1024 * 1024

// E2ETestServer is the full rule service stack over an in-memory gRPC
// connection, backed by in-memory repositories
type E2ETestServer struct {
	Server   *grpc.Server
	Client   *handlers.RuleServiceClient
	Conn     *grpc.ClientConn
	Listener *bufconn.Listener

	Rules       *memory.CollectionRuleRepository
	Permissions *memory.PermissionRepository
	Macros      *memory.MacroRepository
	Groups      *memory.GroupRepository
	Cache       *authorization.PermissionCache
	Collector   *metrics.Collector
	RuleService *services.RuleService

	mu      sync.Mutex
	results map[string]any
	queries []string
}

// SetupE2ETest starts a server and returns a connected client
func SetupE2ETest(t *testing.T) *E2ETestServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	e := &E2ETestServer{
		Rules:       memory.NewCollectionRuleRepository(),
		Permissions: memory.NewPermissionRepository(),
		Macros:      memory.NewMacroRepository(),
		Groups:      memory.NewGroupRepository(),
		Cache:       authorization.NewPermissionCache(nil, time.Minute, logger),
		Collector:   metrics.NewCollector(),
		results:     make(map[string]any),
	}
	e.Collector.SetCache(e.Cache)

	session := memory.SessionFunc(func(ctx context.Context, query string, args ...any) (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.queries = append(e.queries, query)
		return e.results[strings.TrimSpace(query)], nil
	})

	engine := macro.NewEngine(e.Macros, session,
		macro.WithGroupSource(authorization.NewCachedGroupSource(e.Groups, e.Cache)),
		macro.WithRecorder(e.Collector),
		macro.WithEngineLogger(logger),
	)
	expander := macro.NewExpander(e.Macros, macro.WithExpanderLogger(logger))
	evaluator := evaluation.NewEvaluator(engine)
	resolver := authorization.NewResolver(e.Rules, e.Permissions, expander, evaluator,
		authorization.WithCache(e.Cache),
		authorization.WithLogger(logger),
		authorization.WithDecisionRecorder(e.Collector),
	)

	e.RuleService = services.NewRuleService(e.Rules, e.Permissions, expander, e.Cache, logger)
	macroService := services.NewMacroService(e.Macros, e.Cache, logger)
	handler := handlers.NewRuleHandler(resolver, e.RuleService, macroService, e.Cache, logger)

	// Create in-memory gRPC server with bufconn
	e.Listener = bufconn.Listen(bufSize)
	e.Server = grpc.NewServer(grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor(e.Collector, nil, logger)))
	handlers.RegisterRuleServiceServer(e.Server, handler)

	// Start server in background
	go func() {
		if err := e.Server.Serve(e.Listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	// Create client connection
	bufDialer := func(context.Context, string) (net.Conn, error) {
		return e.Listener.Dial()
	}
	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create client connection: %v", err)
	}
	e.Conn = conn
	e.Client = handlers.NewRuleServiceClient(conn)

	t.Cleanup(func() { e.Teardown(t) })
	return e
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Conn != nil {
		e.Conn.Close()
		e.Conn = nil
	}
	if e.Server != nil {
		e.Server.Stop()
		e.Server = nil
	}
	if e.Listener != nil {
		e.Listener.Close()
		e.Listener = nil
	}
}

// SetMacroResult sets the value the session returns for a stored macro query
func (e *E2ETestServer) SetMacroResult(query string, result any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[strings.TrimSpace(query)] = result
}

// QueryCount returns how many stored macro queries were executed
func (e *E2ETestServer) QueryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

func ptr(s string) *string {
	return &s
}

func newStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// check calls the Check RPC and returns the decoded response
func (e *E2ETestServer) check(t *testing.T, req map[string]any) map[string]any {
	t.Helper()
	resp, err := e.Client.Check(testContext(t), newStruct(t, req))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	return resp.AsMap()
}
