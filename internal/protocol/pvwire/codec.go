package pvwire

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// EncodeRequest marshals a request body (without the record mark).
func EncodeRequest(req *Request) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 64+len(req.Name)))
	if _, err := xdr.Marshal(buf, req); err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest parses a request body and checks the protocol version.
func DecodeRequest(data []byte) (*Request, error) {
	req := &Request{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if req.Version != Version {
		return req, fmt.Errorf("unsupported protocol version %d", req.Version)
	}
	return req, nil
}

// EncodeReply marshals a reply body (without the record mark).
func EncodeReply(reply *Reply) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 64+len(reply.Message)))
	if _, err := xdr.Marshal(buf, reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReply parses a reply body.
func DecodeReply(data []byte) (*Reply, error) {
	reply := &Reply{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), reply); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return reply, nil
}
