// Package network exposes a host over libp2p streams. Each request is one
// stream: the client writes a packet, closes its write side and reads a
// single response.
package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	libp2p "github.com/libp2p/go-libp2p"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/signer"
	"github.com/nmxmxh/upaccount/internal/vm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProtocolID is the stream protocol served by nodes.
const ProtocolID = "/upaccount/rpc/1.0.0"

var tracer = otel.Tracer("github.com/nmxmxh/upaccount/internal/network")

// Executor is the part of *vm.Host the server drives.
type Executor interface {
	Apply(ctx context.Context, msg vm.Message) (*vm.Receipt, error)
	Call(ctx context.Context, from, to core.Address, input []byte) ([]byte, error)
	Nonce(addr core.Address) uint64
}

// NewHost starts a libp2p host whose peer identity is key.
func NewHost(key *signer.Key, listen []ma.Multiaddr) (libp2p_host.Host, error) {
	opts := []libp2p.Option{libp2p.Identity(key.PeerKey())}
	if len(listen) > 0 {
		opts = append(opts, libp2p.ListenAddrs(listen...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}
	return h, nil
}

// Addrs returns the full p2p multiaddrs a client can dial to reach h.
func Addrs(h libp2p_host.Host) []string {
	out := make([]string, 0, len(h.Addrs()))
	for _, a := range h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a.String(), h.ID().String()))
	}
	return out
}

// Server answers packets on a libp2p host.
type Server struct {
	host libp2p_host.Host
	exec Executor
	log  *zap.Logger
}

// NewServer returns a server for exec. Call Start to begin serving.
func NewServer(h libp2p_host.Host, exec Executor, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{host: h, exec: exec, log: log.Named("network")}
}

// Start registers the stream handler.
func (s *Server) Start() {
	s.host.SetStreamHandler(ProtocolID, s.handleStream)
	s.log.Info("serving", zap.String("protocol", ProtocolID), zap.Stringer("peer", s.host.ID()))
}

// Stop removes the stream handler.
func (s *Server) Stop() {
	s.host.RemoveStreamHandler(ProtocolID)
}

func (s *Server) handleStream(st network.Stream) {
	defer st.Close()
	log := s.log.With(zap.Stringer("remote", st.Conn().RemotePeer()))

	data, err := io.ReadAll(io.LimitReader(st, MaxPacketSize+1))
	if err != nil {
		log.Warn("read packet", zap.Error(err))
		_ = st.Reset()
		return
	}
	var resp *Response
	if len(data) > MaxPacketSize {
		resp = errorResponse(core.ErrArgument("packet too large"))
	} else if p, err := UnmarshalPacket(data); err != nil {
		log.Debug("rejected packet", zap.Error(err))
		resp = errorResponse(err)
	} else {
		resp = s.Handle(context.Background(), p)
	}
	if _, err := st.Write(resp.Marshal()); err != nil {
		log.Warn("write response", zap.Error(err))
	}
}

// Handle executes one packet.
func (s *Server) Handle(ctx context.Context, p *Packet) *Response {
	ctx, span := tracer.Start(ctx, "network.Handle", trace.WithAttributes(
		attribute.String("kind", p.Kind.String()),
		attribute.String("to", p.To.String()),
	))
	defer span.End()

	resp, err := s.handle(ctx, p)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.log.Debug("packet failed",
			zap.Stringer("kind", p.Kind),
			zap.Stringer("from", p.From),
			zap.Stringer("to", p.To),
			zap.Error(err))
		return errorResponse(err)
	}
	return resp
}

func (s *Server) handle(ctx context.Context, p *Packet) (*Response, error) {
	from, err := p.Sender()
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case KindNonce:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], s.exec.Nonce(from))
		return &Response{Return: b[:]}, nil
	case KindCall:
		out, err := s.exec.Call(ctx, from, p.To, p.Input)
		if err != nil {
			return nil, err
		}
		return &Response{Return: out}, nil
	}

	nonce := p.Nonce
	r, err := s.exec.Apply(ctx, vm.Message{
		From:   from,
		To:     p.To,
		Value:  p.Value,
		Input:  p.Input,
		Create: p.Kind == KindCreate,
		Nonce:  &nonce,
	})
	if err != nil {
		return nil, err
	}
	return &Response{Return: r.Return, ContractAddress: r.ContractAddress, Events: r.Events}, nil
}
