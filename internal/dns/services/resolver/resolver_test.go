package resolver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
)

// noopLogger discards all log messages.
type noopLogger struct{}

func (n *noopLogger) Info(map[string]any, string)  {}
func (n *noopLogger) Error(map[string]any, string) {}
func (n *noopLogger) Debug(map[string]any, string) {}
func (n *noopLogger) Warn(map[string]any, string)  {}
func (n *noopLogger) Panic(map[string]any, string) {}
func (n *noopLogger) Fatal(map[string]any, string) {}

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Resolve(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ResourceRecord), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(key string) ([]domain.ResourceRecord, bool) {
	args := m.Called(key)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).([]domain.ResourceRecord), args.Bool(1)
}

func (m *MockCache) Set(records []domain.ResourceRecord) error {
	args := m.Called(records)
	return args.Error(0)
}

type MockBlocklist struct {
	mock.Mock
}

func (m *MockBlocklist) IsBlocked(name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}

// funcBackend adapts a function to the Backend interface for timeout tests.
type funcBackend func(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error)

func (f funcBackend) Resolve(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	return f(ctx, q)
}

func testQuery(id uint16, name string, rrtype domain.RRType) domain.Message {
	return domain.Message{
		ID:               id,
		RecursionDesired: true,
		Questions: []domain.Question{
			{Name: name, Type: rrtype, Class: domain.RRClassIN},
		},
	}
}

func testARecord(t *testing.T, name string, ttl uint32) domain.ResourceRecord {
	t.Helper()
	rr, err := domain.NewResourceRecord(name, domain.RRTypeA, domain.RRClassIN, ttl, []byte{192, 0, 2, 1}, "192.0.2.1")
	require.NoError(t, err)
	return rr
}

func clientAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 49152}
}

func TestHandleQuery_Success(t *testing.T) {
	backend := &MockBackend{}
	records := []domain.ResourceRecord{testARecord(t, "example.com", 300)}
	backend.On("Resolve", mock.Anything, mock.Anything).Return(records, nil)

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}})
	query := testQuery(42, "example.com", domain.RRTypeA)

	resp := r.HandleQuery(context.Background(), query, clientAddr())

	assert.Equal(t, uint16(42), resp.ID)
	assert.True(t, resp.Response)
	assert.Equal(t, domain.RCodeNoError, resp.RCode)
	assert.Equal(t, query.Questions, resp.Questions)
	assert.Equal(t, records, resp.Answers)
	backend.AssertExpectations(t)
}

func TestHandleQuery_DefaultTTLApplied(t *testing.T) {
	backend := &MockBackend{}
	// TTL 0 from the back end means "no TTL supplied"
	backend.On("Resolve", mock.Anything, mock.Anything).Return([]domain.ResourceRecord{testARecord(t, "example.com", 0)}, nil)

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}})
	resp := r.HandleQuery(context.Background(), testQuery(1, "example.com", domain.RRTypeA), clientAddr())

	require.Len(t, resp.Answers, 1)
	assert.Equal(t, uint32(DefaultTTL), resp.Answers[0].TTL)
}

func TestHandleQuery_NameNotFound(t *testing.T) {
	backend := &MockBackend{}
	backend.On("Resolve", mock.Anything, mock.Anything).Return(nil, domain.ErrNameNotFound)

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}})
	query := testQuery(7, "missing.example.com", domain.RRTypeA)

	resp := r.HandleQuery(context.Background(), query, clientAddr())

	assert.Equal(t, uint16(7), resp.ID)
	assert.Equal(t, domain.RCodeNXDomain, resp.RCode)
	assert.Equal(t, query.Questions, resp.Questions, "error responses still echo the question section")
	assert.Empty(t, resp.Answers)
}

func TestHandleQuery_BackendFailure(t *testing.T) {
	backend := &MockBackend{}
	backend.On("Resolve", mock.Anything, mock.Anything).Return(nil, errors.New("upstream exploded"))

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}})
	resp := r.HandleQuery(context.Background(), testQuery(8, "example.com", domain.RRTypeA), clientAddr())

	assert.Equal(t, domain.RCodeServFail, resp.RCode)
	assert.Empty(t, resp.Answers)
}

func TestHandleQuery_FirstFailureWins(t *testing.T) {
	backend := &MockBackend{}
	good := []domain.ResourceRecord{testARecord(t, "good.example.com", 300)}
	backend.On("Resolve", mock.Anything, mock.MatchedBy(func(q domain.Question) bool {
		return q.Name == "good.example.com"
	})).Return(good, nil)
	backend.On("Resolve", mock.Anything, mock.MatchedBy(func(q domain.Question) bool {
		return q.Name == "missing.example.com"
	})).Return(nil, domain.ErrNameNotFound)

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}})
	query := domain.Message{
		ID: 12,
		Questions: []domain.Question{
			{Name: "good.example.com", Type: domain.RRTypeA, Class: domain.RRClassIN},
			{Name: "missing.example.com", Type: domain.RRTypeA, Class: domain.RRClassIN},
		},
	}

	resp := r.HandleQuery(context.Background(), query, clientAddr())

	// The earlier success is discarded: one failed question fails the message.
	assert.Equal(t, domain.RCodeNXDomain, resp.RCode)
	assert.Empty(t, resp.Answers)
	assert.Equal(t, query.Questions, resp.Questions)
}

func TestHandleQuery_UnsupportedTypeYieldsEmptySet(t *testing.T) {
	backend := &MockBackend{}

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}})
	resp := r.HandleQuery(context.Background(), testQuery(3, "example.com", domain.RRTypeHTTPS), clientAddr())

	assert.Equal(t, domain.RCodeNoError, resp.RCode)
	assert.Empty(t, resp.Answers)
	backend.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestHandleQuery_UnsupportedTypeMixedWithSupported(t *testing.T) {
	backend := &MockBackend{}
	records := []domain.ResourceRecord{testARecord(t, "example.com", 300)}
	backend.On("Resolve", mock.Anything, mock.MatchedBy(func(q domain.Question) bool {
		return q.Type == domain.RRTypeA
	})).Return(records, nil)

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}})
	query := domain.Message{
		ID: 4,
		Questions: []domain.Question{
			{Name: "example.com", Type: domain.RRTypeSOA, Class: domain.RRClassIN},
			{Name: "example.com", Type: domain.RRTypeA, Class: domain.RRClassIN},
		},
	}

	resp := r.HandleQuery(context.Background(), query, clientAddr())

	// The unsupported question contributes nothing; the supported one answers.
	assert.Equal(t, domain.RCodeNoError, resp.RCode)
	assert.Equal(t, records, resp.Answers)
}

func TestHandleQuery_BlockedNameRefused(t *testing.T) {
	backend := &MockBackend{}
	blocklist := &MockBlocklist{}
	blocklist.On("IsBlocked", "ads.example.com").Return(true)

	r := NewResolver(Options{Backend: backend, Blocklist: blocklist, Logger: &noopLogger{}})
	resp := r.HandleQuery(context.Background(), testQuery(5, "ads.example.com", domain.RRTypeA), clientAddr())

	assert.Equal(t, domain.RCodeRefused, resp.RCode)
	assert.Empty(t, resp.Answers)
	backend.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	blocklist.AssertExpectations(t)
}

func TestHandleQuery_CacheHitSkipsBackend(t *testing.T) {
	backend := &MockBackend{}
	cache := &MockCache{}
	records := []domain.ResourceRecord{testARecord(t, "example.com", 300)}
	cache.On("Get", "example.com:1:1").Return(records, true)

	r := NewResolver(Options{Backend: backend, Cache: cache, Logger: &noopLogger{}})
	resp := r.HandleQuery(context.Background(), testQuery(6, "example.com", domain.RRTypeA), clientAddr())

	assert.Equal(t, domain.RCodeNoError, resp.RCode)
	assert.Equal(t, records, resp.Answers)
	backend.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestHandleQuery_CacheMissStoresAnswer(t *testing.T) {
	backend := &MockBackend{}
	cache := &MockCache{}
	records := []domain.ResourceRecord{testARecord(t, "example.com", 300)}
	cache.On("Get", "example.com:1:1").Return(nil, false)
	backend.On("Resolve", mock.Anything, mock.Anything).Return(records, nil)
	cache.On("Set", records).Return(nil)

	r := NewResolver(Options{Backend: backend, Cache: cache, Logger: &noopLogger{}})
	resp := r.HandleQuery(context.Background(), testQuery(9, "example.com", domain.RRTypeA), clientAddr())

	assert.Equal(t, domain.RCodeNoError, resp.RCode)
	cache.AssertExpectations(t)
	backend.AssertExpectations(t)
}

func TestHandleQuery_CacheSetFailureDoesNotFailQuery(t *testing.T) {
	backend := &MockBackend{}
	cache := &MockCache{}
	records := []domain.ResourceRecord{testARecord(t, "example.com", 300)}
	cache.On("Get", mock.Anything).Return(nil, false)
	backend.On("Resolve", mock.Anything, mock.Anything).Return(records, nil)
	cache.On("Set", records).Return(errors.New("cache full"))

	r := NewResolver(Options{Backend: backend, Cache: cache, Logger: &noopLogger{}})
	resp := r.HandleQuery(context.Background(), testQuery(10, "example.com", domain.RRTypeA), clientAddr())

	assert.Equal(t, domain.RCodeNoError, resp.RCode)
	assert.Equal(t, records, resp.Answers)
}

func TestHandleQuery_TimeoutYieldsServFail(t *testing.T) {
	backend := funcBackend(func(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	r := NewResolver(Options{Backend: backend, Logger: &noopLogger{}, Timeout: 20 * time.Millisecond})

	start := time.Now()
	resp := r.HandleQuery(context.Background(), testQuery(11, "slow.example.com", domain.RRTypeA), clientAddr())

	assert.Equal(t, domain.RCodeServFail, resp.RCode)
	assert.Less(t, time.Since(start), 5*time.Second, "resolution must be bounded by the configured timeout")
}

func TestNewResolver_DefaultTimeout(t *testing.T) {
	r := NewResolver(Options{Backend: &MockBackend{}, Logger: &noopLogger{}})
	assert.Equal(t, defaultTimeout, r.timeout)

	r = NewResolver(Options{Backend: &MockBackend{}, Logger: &noopLogger{}, Timeout: time.Second})
	assert.Equal(t, time.Second, r.timeout)
}
