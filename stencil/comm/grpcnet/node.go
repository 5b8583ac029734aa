// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grpcnet connects the ranks of a process group running in separate
// processes.
//
// Every rank runs a gRPC server and keeps one client stream open to each
// peer it sends to. A message is a frame carrying the job id, the source
// rank and the tag; the receiving server files it in a mailbox where Recv
// picks it up. Frames of a different job are rejected with
// codes.PermissionDenied, so two runs sharing a host cannot mix.
//
// Unlike comm.Local, Send returns once the frame is handed to the
// transport and does not wait for the matching Recv.
//
// A peer that ends its stream has sent everything it will send: once its
// queued frames are consumed, Recv from it fails with comm.ErrPeerLost. A
// stream that breaks, or an Abort from any peer, fails every pending and
// later Recv and Send of the node, so one lost rank stops the whole group.
package grpcnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/ajroetker/go-halo/stencil/comm"
)

const (
	serviceName   = "halostencil.Mesh"
	deliverMethod = "/" + serviceName + "/Deliver"

	// DefaultMailboxDepth is the number of frames buffered per (source, tag)
	// before the sender is slowed down by flow control.
	DefaultMailboxDepth = 64

	// DefaultMaxMessageSize bounds one frame.
	DefaultMaxMessageSize = 64 << 20

	// DefaultCloseTimeout bounds how long Close waits for peers to drain.
	DefaultCloseTimeout = 5 * time.Second

	// DefaultConnectTimeout bounds how long a first Send waits for a peer
	// to come up.
	DefaultConnectTimeout = 30 * time.Second

	keepaliveTime    = 10 * time.Second
	keepaliveTimeout = 5 * time.Second
)

// tagAbort marks a frame announcing that its sender gave up on the job.
const tagAbort = -1

// meshServer is implemented by *Node.
type meshServer interface {
	serveDeliver(stream grpc.ServerStream) error
}

var meshServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*meshServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Deliver",
			Handler:       deliverHandler,
			ClientStreams: true,
		},
	},
	Metadata: "halostencil/mesh",
}

func deliverHandler(srv any, stream grpc.ServerStream) error {
	return srv.(meshServer).serveDeliver(stream)
}

// Config describes one rank of a gRPC process group.
type Config struct {
	// Rank of this node; Peers[Rank] is its own address.
	Rank int

	// Peers lists the address of every rank, indexed by rank.
	Peers []string

	// Job identifies the run. All ranks must agree on it.
	Job uuid.UUID

	// Listener, if set, is served instead of listening on Peers[Rank].
	Listener net.Listener

	MailboxDepth   int
	MaxMessageSize int
	CloseTimeout   time.Duration
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Node is one rank of a gRPC process group. It implements comm.Comm.
type Node struct {
	rank           int
	peers          []string
	job            uuid.UUID
	maxMsg         int
	closeTimeout   time.Duration
	connectTimeout time.Duration
	log            *slog.Logger

	lis      net.Listener
	server   *grpc.Server
	serveErr chan error
	inbox    *comm.Mailbox

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[int]*link
	closed bool
}

// link is the outgoing stream to one peer.
type link struct {
	mu     sync.Mutex
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// New starts serving for cfg.Rank. Connections to peers are made on first
// use.
func New(cfg Config) (*Node, error) {
	if len(cfg.Peers) == 0 {
		return nil, fmt.Errorf("grpcnet: no peers")
	}
	if cfg.Rank < 0 || cfg.Rank >= len(cfg.Peers) {
		return nil, fmt.Errorf("%w: rank %d with %d peers", comm.ErrRank, cfg.Rank, len(cfg.Peers))
	}
	if cfg.Job == uuid.Nil {
		return nil, fmt.Errorf("grpcnet: job id is required")
	}
	if cfg.MailboxDepth <= 0 {
		cfg.MailboxDepth = DefaultMailboxDepth
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	lis := cfg.Listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", cfg.Peers[cfg.Rank])
		if err != nil {
			return nil, fmt.Errorf("grpcnet: listen: %w", err)
		}
	}

	n := &Node{
		rank:           cfg.Rank,
		peers:          cfg.Peers,
		job:            cfg.Job,
		maxMsg:         cfg.MaxMessageSize,
		closeTimeout:   cfg.CloseTimeout,
		connectTimeout: cfg.ConnectTimeout,
		log:            cfg.Logger.With("rank", cfg.Rank, "job", cfg.Job),
		lis:            lis,
		serveErr:       make(chan error, 1),
		inbox:          comm.NewMailbox(cfg.MailboxDepth),
		links:          make(map[int]*link),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(n.maxMsg),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: keepaliveTime, Timeout: keepaliveTimeout}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: keepaliveTime / 2}),
	)
	n.server.RegisterService(&meshServiceDesc, n)
	go func() {
		n.serveErr <- n.server.Serve(lis)
	}()
	n.log.Debug("serving", "addr", lis.Addr().String())
	return n, nil
}

// Rank returns the rank of this node.
func (n *Node) Rank() int { return n.rank }

// Size returns the number of ranks in the group.
func (n *Node) Size() int { return len(n.peers) }

// Job returns the job id frames are tagged with.
func (n *Node) Job() uuid.UUID { return n.job }

// Addr returns the address the node serves on.
func (n *Node) Addr() net.Addr { return n.lis.Addr() }

func (n *Node) checkPeer(op string, rank int) error {
	if rank < 0 || rank >= len(n.peers) {
		return fmt.Errorf("%w: %s %d in group of %d", comm.ErrRank, op, rank, len(n.peers))
	}
	if rank == n.rank {
		return fmt.Errorf("%w: rank %d cannot %s itself", comm.ErrRank, rank, op)
	}
	return nil
}

// link returns the connection to dst, dialing it on first use.
func (n *Node) link(dst int) (*link, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, comm.ErrClosed
	}
	if l, ok := n.links[dst]; ok {
		return l, nil
	}
	conn, err := grpc.NewClient(n.peers[dst],
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: keepaliveTime, Timeout: keepaliveTimeout}),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallSendMsgSize(n.maxMsg),
			grpc.MaxCallRecvMsgSize(n.maxMsg),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcnet: dial rank %d at %s: %w", dst, n.peers[dst], err)
	}
	l := &link{conn: conn}
	n.links[dst] = l
	return l, nil
}

// Send delivers a copy of data to dst. It returns once the frame is queued
// on the stream to dst.
func (n *Node) Send(ctx context.Context, dst, tag int, data []byte) error {
	if err := n.checkPeer("send to", dst); err != nil {
		return err
	}
	l, err := n.link(dst)
	if err != nil {
		return err
	}
	if err := n.inbox.Err(dst); err != nil {
		return fmt.Errorf("grpcnet: send to rank %d: %w", dst, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := n.openStream(ctx, dst, l, false); err != nil {
		return err
	}

	f := &frame{Job: n.job, Src: int32(n.rank), Tag: int32(tag), Payload: bytes.Clone(data)}
	stop := context.AfterFunc(ctx, l.cancel)
	err = l.stream.SendMsg(f)
	if !stop() {
		return fmt.Errorf("grpcnet: send to rank %d: %w", dst, ctx.Err())
	}
	if errors.Is(err, io.EOF) {
		// The server ended the stream; its status explains why.
		err = l.stream.RecvMsg(&frame{})
	}
	if err != nil {
		return fmt.Errorf("grpcnet: send to rank %d: %w", dst, err)
	}
	return nil
}

// openStream starts the stream to dst unless it is already open. l.mu must
// be held.
func (n *Node) openStream(ctx context.Context, dst int, l *link, failFast bool) error {
	if l.stream != nil {
		return nil
	}
	if err := n.waitReady(ctx, dst, l.conn, failFast); err != nil {
		return err
	}
	sctx, cancel := context.WithCancel(n.ctx)
	stop := context.AfterFunc(ctx, cancel)
	stream, err := l.conn.NewStream(sctx, &meshServiceDesc.Streams[0], deliverMethod)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return fmt.Errorf("grpcnet: open stream to rank %d: %w", dst, err)
	}
	l.stream, l.cancel = stream, cancel
	n.log.Debug("stream opened", "peer", dst)
	return nil
}

// waitReady connects to dst, waiting at most the connect timeout for the
// peer to start serving. With failFast the first failed attempt is final.
func (n *Node) waitReady(ctx context.Context, dst int, conn *grpc.ClientConn, failFast bool) error {
	cctx, cancel := context.WithTimeout(ctx, n.connectTimeout)
	defer cancel()
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("grpcnet: connect to rank %d: %w", dst, comm.ErrClosed)
		case connectivity.TransientFailure:
			if failFast {
				return fmt.Errorf("%w: rank %d at %s refused the connection", comm.ErrPeerLost, dst, n.peers[dst])
			}
		}
		if !conn.WaitForStateChange(cctx, state) {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("grpcnet: connect to rank %d: %w", dst, err)
			}
			return fmt.Errorf("%w: rank %d at %s unreachable for %v", comm.ErrPeerLost, dst, n.peers[dst], n.connectTimeout)
		}
	}
}

// Abort tells every peer that this rank gave up on the job, so that their
// pending and later calls fail with comm.ErrPeerLost instead of waiting for
// frames that will never come. It waits at most the close timeout and
// returns the peers it could not reach. Close must still be called.
func (n *Node) Abort(cause error) error {
	n.fail(fmt.Errorf("%w: rank %d aborted: %w", comm.ErrPeerLost, n.rank, cause))

	ctx, cancel := context.WithTimeout(n.ctx, n.closeTimeout)
	defer cancel()
	errs := make([]error, len(n.peers))
	var g errgroup.Group
	for dst := range n.peers {
		if dst == n.rank {
			continue
		}
		g.Go(func() error {
			errs[dst] = n.sendAbort(ctx, dst, cause)
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

func (n *Node) sendAbort(ctx context.Context, dst int, cause error) error {
	l, err := n.link(dst)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := n.openStream(ctx, dst, l, true); err != nil {
		return err
	}
	f := &frame{Job: n.job, Src: int32(n.rank), Tag: tagAbort, Payload: []byte(cause.Error())}
	if err := l.stream.SendMsg(f); err != nil {
		return fmt.Errorf("grpcnet: abort rank %d: %w", dst, err)
	}
	return nil
}

// fail ends every pending and later Recv with err.
func (n *Node) fail(err error) {
	if n.inbox.CloseAll(err) {
		n.log.Warn("group failed", "err", err)
	}
}

// Recv waits for the next frame from src with tag and copies its payload
// into buf.
func (n *Node) Recv(ctx context.Context, src, tag int, buf []byte) error {
	if err := n.checkPeer("receive from", src); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(n.ctx, cancel)
	defer stop()
	if err := n.inbox.TakeInto(ctx, src, tag, buf); err != nil {
		if n.ctx.Err() != nil {
			return comm.ErrClosed
		}
		return err
	}
	return nil
}

func (n *Node) serveDeliver(stream grpc.ServerStream) error {
	src := -1
	for {
		var f frame
		err := stream.RecvMsg(&f)
		if errors.Is(err, io.EOF) {
			if src >= 0 {
				n.inbox.Close(src, fmt.Errorf("%w: rank %d ended its stream", comm.ErrPeerLost, src))
			}
			return stream.SendMsg(&frame{Job: n.job, Src: int32(n.rank)})
		}
		if err != nil {
			if src >= 0 {
				n.fail(fmt.Errorf("%w: stream from rank %d broke: %w", comm.ErrPeerLost, src, err))
			}
			return err
		}
		if f.Job != n.job {
			n.log.Warn("frame from another job rejected", "frame_job", f.Job, "src", f.Src)
			return status.Errorf(codes.PermissionDenied, "rank %d serves job %s, not %s", n.rank, n.job, f.Job)
		}
		from := int(f.Src)
		if from < 0 || from >= len(n.peers) || from == n.rank || (src >= 0 && from != src) {
			return status.Errorf(codes.InvalidArgument, "frame from rank %d in group of %d", from, len(n.peers))
		}
		src = from
		if f.Tag == tagAbort {
			n.fail(fmt.Errorf("%w: rank %d aborted: %s", comm.ErrPeerLost, src, f.Payload))
			continue
		}
		if err := n.inbox.Put(stream.Context(), src, int(f.Tag), f.Payload); err != nil {
			if cerr := stream.Context().Err(); cerr != nil {
				return status.FromContextError(cerr).Err()
			}
			return status.Error(codes.Aborted, err.Error())
		}
	}
}

// Close ends the streams to every peer, waits for their acknowledgement and
// stops the server. Peers that do not drain within the close timeout are
// cut off.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	links := n.links
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.closeTimeout)
	defer cancel()

	var err error
	for dst, l := range links {
		err = multierr.Append(err, n.closeLink(ctx, dst, l))
	}

	stopped := make(chan struct{})
	go func() {
		n.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		n.log.Warn("peers did not disconnect in time, stopping server")
		n.server.Stop()
		<-stopped
	}
	n.cancel()
	err = multierr.Append(err, <-n.serveErr)
	n.log.Debug("closed")
	return err
}

func (n *Node) closeLink(ctx context.Context, dst int, l *link) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.stream != nil {
		stop := context.AfterFunc(ctx, l.cancel)
		if cerr := l.stream.CloseSend(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("grpcnet: close stream to rank %d: %w", dst, cerr))
		} else if rerr := l.stream.RecvMsg(&frame{}); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("grpcnet: drain stream to rank %d: %w", dst, rerr))
		}
		stop()
		l.cancel()
	}
	if cerr := l.conn.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("grpcnet: close connection to rank %d: %w", dst, cerr))
	}
	return err
}

var _ comm.Comm = (*Node)(nil)
