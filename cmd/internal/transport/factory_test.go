package transport

import (
	"errors"
	"testing"

	"courier/cmd/internal/gateway"
)

func TestFactory_SelectsVariant(t *testing.T) {
	t.Parallel()

	f := NewFactory(testLogger(), false)

	p, err := f.New("s1", gateway.TransportConfig{SocketAddress: "ws://up.example/transport"})
	if err != nil {
		t.Fatalf("socket config: %v", err)
	}
	if p.Kind() != gateway.KindSocket {
		t.Fatalf("kind = %v", p.Kind())
	}

	p, err = f.New("s2", gateway.TransportConfig{RestBaseURL: "http://up.example", RestToken: "tok"})
	if err != nil {
		t.Fatalf("rest config: %v", err)
	}
	if p.Kind() != gateway.KindRest {
		t.Fatalf("kind = %v", p.Kind())
	}
}

func TestFactory_RejectsSocketWithoutAddress(t *testing.T) {
	t.Parallel()

	f := NewFactory(testLogger(), false)

	_, err := f.New("s1", gateway.TransportConfig{DeviceName: "dev"})
	var cfgErr *gateway.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestFactory_PartialRestCredentialsFallBackToSocket(t *testing.T) {
	t.Parallel()

	f := NewFactory(testLogger(), false)

	// A base URL without a token does not select the REST variant.
	_, err := f.New("s1", gateway.TransportConfig{RestBaseURL: "http://up.example"})
	var cfgErr *gateway.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want config error, got %v", err)
	}
}
