package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/signer"
	"github.com/nmxmxh/upaccount/internal/vm"
)

// Client sends packets to one node. It implements vm.Backend, so contract
// bindings work against a remote node as they do in process.
type Client struct {
	host libp2p_host.Host
	peer peer.ID
	key  *signer.Key
}

var _ vm.Backend = (*Client)(nil)

// Dial connects h to the node at addr, a multiaddr ending in /p2p/<id>.
// key signs state-changing packets.
func Dial(ctx context.Context, h libp2p_host.Host, addr string, key *signer.Key) (*Client, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("parse node address: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("parse node address: %w", err)
	}
	if err := h.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", info.ID, err)
	}
	return NewClient(h, info.ID, key), nil
}

// NewClient returns a client for a peer h can already reach.
func NewClient(h libp2p_host.Host, node peer.ID, key *signer.Key) *Client {
	return &Client{host: h, peer: node, key: key}
}

// Send writes p and reads the node's response.
func (c *Client) Send(ctx context.Context, p *Packet) (*Response, error) {
	st, err := c.host.NewStream(ctx, c.peer, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer st.Close()
	if _, err := st.Write(p.Marshal()); err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("write packet: %w", err)
	}
	if err := st.CloseWrite(); err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("close write: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(st, MaxPacketSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return UnmarshalResponse(data)
}

// Nonce asks the node for the nonce of addr.
func (c *Client) Nonce(ctx context.Context, addr core.Address) (uint64, error) {
	resp, err := c.Send(ctx, &Packet{Kind: KindNonce, From: addr})
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	if len(resp.Return) != 8 {
		return 0, fmt.Errorf("nonce response is %d bytes", len(resp.Return))
	}
	return binary.BigEndian.Uint64(resp.Return), nil
}

func (c *Client) apply(ctx context.Context, kind Kind, from, to core.Address, value uint64, input []byte) (*vm.Receipt, error) {
	if c.key == nil || from != c.key.Address() {
		return nil, core.ErrArgument("client can only sign for its own key").WithContext("from", from.String())
	}
	nonce, err := c.Nonce(ctx, from)
	if err != nil {
		return nil, err
	}
	p := &Packet{Kind: kind, To: to, Value: value, Input: input, Nonce: nonce}
	p.Sign(c.key)
	resp, err := c.Send(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &vm.Receipt{Return: resp.Return, Events: resp.Events, ContractAddress: resp.ContractAddress}, nil
}

// Transact sends a signed call.
func (c *Client) Transact(ctx context.Context, from, to core.Address, value uint64, input []byte) (*vm.Receipt, error) {
	return c.apply(ctx, KindTransact, from, to, value, input)
}

// Deploy sends a signed deployment and returns the new contract address.
func (c *Client) Deploy(ctx context.Context, value uint64, initCode []byte) (core.Address, *vm.Receipt, error) {
	if c.key == nil {
		return core.Address{}, nil, core.ErrArgument("client has no signing key")
	}
	r, err := c.apply(ctx, KindCreate, c.key.Address(), core.Address{}, value, initCode)
	if err != nil {
		return core.Address{}, nil, err
	}
	return r.ContractAddress, r, nil
}

// Call runs a read-only call on the node.
func (c *Client) Call(ctx context.Context, from, to core.Address, input []byte) ([]byte, error) {
	resp, err := c.Send(ctx, &Packet{Kind: KindCall, From: from, To: to, Input: input})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Return, nil
}
