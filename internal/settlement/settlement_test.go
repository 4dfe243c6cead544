package settlement

import "testing"

func TestIsTransportErr_PlainErrorIsTransport(t *testing.T) {
	if !isTransportErr(errPlain("dial tcp: connection refused")) {
		t.Fatalf("expected a plain error to be classified as a transport failure")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }

type fakeRPCError struct{ code int }

func (e fakeRPCError) Error() string { return "rpc error" }
func (e fakeRPCError) ErrorCode() int { return e.code }

func TestIsTransportErr_RPCErrorIsNotTransport(t *testing.T) {
	if isTransportErr(fakeRPCError{code: -32000}) {
		t.Fatalf("expected an RPC error response to not be classified as a transport failure")
	}
}
