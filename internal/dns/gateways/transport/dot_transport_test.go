package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/wire"
)

// noopLogger discards all log messages.
type noopLogger struct{}

func (n *noopLogger) Info(map[string]any, string)  {}
func (n *noopLogger) Error(map[string]any, string) {}
func (n *noopLogger) Debug(map[string]any, string) {}
func (n *noopLogger) Warn(map[string]any, string)  {}
func (n *noopLogger) Panic(map[string]any, string) {}
func (n *noopLogger) Fatal(map[string]any, string) {}

// echoResponder answers every query with a fixed A record.
type echoResponder struct{}

func (echoResponder) HandleQuery(_ context.Context, query domain.Message, _ net.Addr) domain.Message {
	rr, _ := domain.NewResourceRecord("example.com", domain.RRTypeA, domain.RRClassIN, 300, []byte{192, 0, 2, 1}, "192.0.2.1")
	return domain.NewResponse(query, []domain.ResourceRecord{rr})
}

// selfSignedTLSConfig builds an in-memory certificate for loopback listeners.
func selfSignedTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
}

func encodeQuery(t *testing.T, codec wire.Codec, id uint16, name string) []byte {
	t.Helper()
	data, err := codec.EncodeMessage(domain.Message{
		ID:        id,
		Questions: []domain.Question{{Name: name, Type: domain.RRTypeA, Class: domain.RRClassIN}},
	})
	require.NoError(t, err)
	return data
}

func readFramed(t *testing.T, r io.Reader) []byte {
	t.Helper()
	var prefix [2]byte
	_, err := io.ReadFull(r, prefix[:])
	require.NoError(t, err)
	payload := make([]byte, binary.BigEndian.Uint16(prefix[:]))
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	return payload
}

func TestDoTHandleConn_RespondsInOrder(t *testing.T) {
	codec := wire.NewMessageCodec(&noopLogger{})
	tr := NewDoTTransport(":853", nil, codec, &noopLogger{})

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		tr.handleConn(context.Background(), server, echoResponder{})
		close(done)
	}()

	// Two back-to-back framed queries in a single write.
	var stream []byte
	stream = append(stream, frameMessage(encodeQuery(t, codec, 1, "one.example.com"))...)
	stream = append(stream, frameMessage(encodeQuery(t, codec, 2, "two.example.com"))...)
	_, err := client.Write(stream)
	require.NoError(t, err)

	first, err := codec.DecodeMessage(readFramed(t, client))
	require.NoError(t, err)
	second, err := codec.DecodeMessage(readFramed(t, client))
	require.NoError(t, err)

	// Responses arrive in query order.
	assert.Equal(t, uint16(1), first.ID)
	assert.Equal(t, uint16(2), second.ID)
	assert.Equal(t, domain.RCodeNoError, first.RCode)
	assert.Len(t, first.Answers, 1)

	client.Close()
	<-done
}

func TestDoTHandleConn_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	codec := wire.NewMessageCodec(&noopLogger{})
	tr := NewDoTTransport(":853", nil, codec, &noopLogger{})

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		tr.handleConn(context.Background(), server, echoResponder{})
		close(done)
	}()

	// A framed payload too short to carry a DNS header.
	_, err := client.Write(frameMessage([]byte{0x12, 0x34, 0xFF}))
	require.NoError(t, err)

	servfail, err := codec.DecodeMessage(readFramed(t, client))
	require.NoError(t, err)
	assert.Equal(t, domain.RCodeServFail, servfail.RCode)
	assert.Equal(t, uint16(0x1234), servfail.ID, "id is recovered from the raw header bytes")

	// The connection survives: a valid query still gets answered.
	_, err = client.Write(frameMessage(encodeQuery(t, codec, 7, "example.com")))
	require.NoError(t, err)

	resp, err := codec.DecodeMessage(readFramed(t, client))
	require.NoError(t, err)
	assert.Equal(t, uint16(7), resp.ID)
	assert.Equal(t, domain.RCodeNoError, resp.RCode)

	client.Close()
	<-done
}

func TestDoTHandleConn_UnrecoverableID(t *testing.T) {
	codec := wire.NewMessageCodec(&noopLogger{})
	tr := NewDoTTransport(":853", nil, codec, &noopLogger{})

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		tr.handleConn(context.Background(), server, echoResponder{})
		close(done)
	}()

	// One byte: not even the transaction id survives.
	_, err := client.Write(frameMessage([]byte{0x42}))
	require.NoError(t, err)

	servfail, err := codec.DecodeMessage(readFramed(t, client))
	require.NoError(t, err)
	assert.Equal(t, domain.RCodeServFail, servfail.RCode)
	assert.Equal(t, uint16(0), servfail.ID)

	client.Close()
	<-done
}

func TestDoTTransport_StartStop(t *testing.T) {
	codec := wire.NewMessageCodec(&noopLogger{})
	tr := NewDoTTransport("127.0.0.1:0", selfSignedTLSConfig(t), codec, &noopLogger{})

	require.NoError(t, tr.Start(context.Background(), echoResponder{}))
	assert.True(t, tr.Running())
	assert.Equal(t, "127.0.0.1:0", tr.Address())

	// Starting twice is an error.
	assert.Error(t, tr.Start(context.Background(), echoResponder{}))

	require.NoError(t, tr.Stop())
	assert.False(t, tr.Running())

	// Stop is idempotent.
	assert.NoError(t, tr.Stop())
}
