package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrSizeMismatch  = errors.New("comm: ranks contributed different sizes")
	ErrCountMismatch = errors.New("comm: received count differs from expected")
	ErrBadLayout     = errors.New("comm: counts or offsets outside buffer")
	ErrClosed        = errors.New("comm: communicator closed")
	ErrUnknownOp     = errors.New("comm: unknown reduce op")
)

// Op selects the reduction applied by AllReduce.
type Op int

const (
	OpLogicalAnd Op = iota + 1
	OpLogicalOr
	OpSum
	OpMax
	OpMin
)

// Communicator is a fixed group of ranks. Counts and offsets are in bytes.
type Communicator interface {
	Rank() int
	Size() int
	// AllGather returns every rank's send buffer concatenated in rank order.
	// All ranks must send the same number of bytes.
	AllGather(ctx context.Context, send []byte) ([]byte, error)
	// AllReduce combines send element-wise across ranks.
	AllReduce(ctx context.Context, send []int64, op Op) ([]int64, error)
	// AllToAllV sends send[sendOffsets[i]:+sendCounts[i]] to rank i and
	// writes what rank i sent here into recv at recvOffsets[i].
	AllToAllV(ctx context.Context, send []byte, sendCounts, sendOffsets []int, recv []byte, recvCounts, recvOffsets []int) error
}

// router moves one buffer to every rank and returns one buffer from every
// rank, indexed by source.
type router interface {
	route(ctx context.Context, out [][]byte) ([][]byte, error)
}

// group implements Communicator on top of a router.
type group struct {
	rank int
	size int
	r    router
}

func (g *group) Rank() int { return g.rank }
func (g *group) Size() int { return g.size }

func (g *group) AllGather(ctx context.Context, send []byte) ([]byte, error) {
	out := make([][]byte, g.size)
	for i := range out {
		out[i] = send
	}
	in, err := g.r.route(ctx, out)
	if err != nil {
		return nil, err
	}
	res := make([]byte, 0, g.size*len(send))
	for src, b := range in {
		if len(b) != len(send) {
			return nil, fmt.Errorf("%w: rank %d sent %d bytes, rank %d sent %d", ErrSizeMismatch, src, len(b), g.rank, len(send))
		}
		res = append(res, b...)
	}
	return res, nil
}

func (g *group) AllReduce(ctx context.Context, send []int64, op Op) ([]int64, error) {
	gathered, err := AllGather(ctx, g, send)
	if err != nil {
		return nil, err
	}
	out := append([]int64(nil), gathered[:len(send)]...)
	for src := 1; src < g.size; src++ {
		part := gathered[src*len(send) : (src+1)*len(send)]
		for i, v := range part {
			switch op {
			case OpLogicalAnd:
				out[i] = boolInt(out[i] != 0 && v != 0)
			case OpLogicalOr:
				out[i] = boolInt(out[i] != 0 || v != 0)
			case OpSum:
				out[i] += v
			case OpMax:
				out[i] = max(out[i], v)
			case OpMin:
				out[i] = min(out[i], v)
			default:
				return nil, fmt.Errorf("%w: %d", ErrUnknownOp, op)
			}
		}
	}
	if op == OpLogicalAnd || op == OpLogicalOr {
		for i := range out {
			out[i] = boolInt(out[i] != 0)
		}
	}
	return out, nil
}

func (g *group) AllToAllV(ctx context.Context, send []byte, sendCounts, sendOffsets []int, recv []byte, recvCounts, recvOffsets []int) error {
	if err := checkLayout(len(send), g.size, sendCounts, sendOffsets); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := checkLayout(len(recv), g.size, recvCounts, recvOffsets); err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	out := make([][]byte, g.size)
	for i := range out {
		out[i] = send[sendOffsets[i] : sendOffsets[i]+sendCounts[i]]
	}
	in, err := g.r.route(ctx, out)
	if err != nil {
		return err
	}
	for src, b := range in {
		if len(b) != recvCounts[src] {
			return fmt.Errorf("%w: rank %d sent %d bytes, expected %d", ErrCountMismatch, src, len(b), recvCounts[src])
		}
		copy(recv[recvOffsets[src]:], b)
	}
	return nil
}

func checkLayout(bufLen, size int, counts, offsets []int) error {
	if len(counts) != size || len(offsets) != size {
		return fmt.Errorf("%w: %d counts, %d offsets for %d ranks", ErrBadLayout, len(counts), len(offsets), size)
	}
	for i := range counts {
		if counts[i] < 0 || offsets[i] < 0 || offsets[i]+counts[i] > bufLen {
			return fmt.Errorf("%w: rank %d count=%d offset=%d len=%d", ErrBadLayout, i, counts[i], offsets[i], bufLen)
		}
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Element is a fixed-size value that can cross the wire.
type Element interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// SizeOf returns the wire size of one T.
func SizeOf[T Element]() int {
	var z T
	return binary.Size(z)
}

func encode[T Element](vals []T) ([]byte, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	return binary.Append(make([]byte, 0, len(vals)*SizeOf[T]()), binary.LittleEndian, vals)
}

func decode[T Element](b []byte, out []T) error {
	if len(out) == 0 {
		return nil
	}
	_, err := binary.Decode(b, binary.LittleEndian, out)
	return err
}

// AllGather gathers len(send) values from every rank, in rank order.
func AllGather[T Element](ctx context.Context, c Communicator, send []T) ([]T, error) {
	b, err := encode(send)
	if err != nil {
		return nil, err
	}
	got, err := c.AllGather(ctx, b)
	if err != nil {
		return nil, err
	}
	out := make([]T, c.Size()*len(send))
	if err := decode(got, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllToAllV is the typed form of Communicator.AllToAllV; counts and
// offsets are in elements.
func AllToAllV[T Element](ctx context.Context, c Communicator, send []T, sendCounts, sendOffsets []int, recv []T, recvCounts, recvOffsets []int) error {
	esz := SizeOf[T]()
	sendBytes, err := encode(send)
	if err != nil {
		return err
	}
	recvBytes := make([]byte, len(recv)*esz)
	err = c.AllToAllV(ctx,
		sendBytes, scale(sendCounts, esz), scale(sendOffsets, esz),
		recvBytes, scale(recvCounts, esz), scale(recvOffsets, esz))
	if err != nil {
		return err
	}
	return decode(recvBytes, recv)
}

// Exchange sends perPeer[i] to rank i and returns what each rank sent
// here, indexed by source. Counts are agreed with one AllGather before the
// payload moves. perPeer must have one entry per rank.
func Exchange[T Element](ctx context.Context, c Communicator, perPeer [][]T) ([][]T, error) {
	n, rank := c.Size(), c.Rank()
	if len(perPeer) != n {
		return nil, fmt.Errorf("%w: %d peer buffers for %d ranks", ErrBadLayout, len(perPeer), n)
	}
	counts := make([]int64, n)
	sendCounts := make([]int, n)
	var send []T
	for i, buf := range perPeer {
		counts[i] = int64(len(buf))
		sendCounts[i] = len(buf)
		send = append(send, buf...)
	}
	gathered, err := AllGather(ctx, c, counts)
	if err != nil {
		return nil, err
	}
	recvCounts := make([]int, n)
	for i := range recvCounts {
		recvCounts[i] = int(gathered[n*i+rank])
	}
	recvOffsets := Offsets(recvCounts)
	recv := make([]T, Total(recvCounts))
	err = AllToAllV(ctx, c, send, sendCounts, Offsets(sendCounts), recv, recvCounts, recvOffsets)
	if err != nil {
		return nil, err
	}
	out := make([][]T, n)
	for i := range out {
		out[i] = recv[recvOffsets[i] : recvOffsets[i]+recvCounts[i] : recvOffsets[i]+recvCounts[i]]
	}
	return out, nil
}

// Broadcast sends the same buffer to every rank, including this one.
func Broadcast[T Element](ctx context.Context, c Communicator, buf []T) ([][]T, error) {
	perPeer := make([][]T, c.Size())
	for i := range perPeer {
		perPeer[i] = buf
	}
	return Exchange(ctx, c, perPeer)
}

// AllReduceAnd returns true on every rank only if v is true on all ranks.
func AllReduceAnd(ctx context.Context, c Communicator, v bool) (bool, error) {
	out, err := c.AllReduce(ctx, []int64{boolInt(v)}, OpLogicalAnd)
	if err != nil {
		return false, err
	}
	return out[0] != 0, nil
}

// AllReduceSum returns the sum of v across ranks.
func AllReduceSum(ctx context.Context, c Communicator, v int64) (int64, error) {
	out, err := c.AllReduce(ctx, []int64{v}, OpSum)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// Offsets returns the exclusive prefix sum of counts.
func Offsets(counts []int) []int {
	out := make([]int, len(counts))
	total := 0
	for i, c := range counts {
		out[i] = total
		total += c
	}
	return out
}

// Total sums counts.
func Total(counts []int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

func scale(v []int, f int) []int {
	out := make([]int, len(v))
	for i := range v {
		out[i] = v[i] * f
	}
	return out
}
