package redistribute

import (
	"context"
	"fmt"

	"github.com/danmuck/treegrid/internal/bitvec"
	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/htg"
)

// treeMeta is what a receiver learns about each incoming tree before any
// payload moves.
type treeMeta struct {
	id       int64
	descBits int64
	cells    int64
	maskBits int64
}

const metaFields = 4

// plan is the state shared by the exchange phases of one run.
type plan struct {
	in, out *htg.Grid
	rank, n int
	anyMask bool
	rep     *Report

	toSend [][]int
	kept   []int

	// sentTrees and recvTrees count trees per peer rank. sendMeta and
	// recvMeta list trees grouped by peer in rank order.
	sentTrees []int
	recvTrees []int
	sendMeta  []treeMeta
	recvMeta  []treeMeta

	descSend      []byte
	descSendBytes []int
}

// perPeer sums field over meta, grouped by the per-peer tree counts.
func perPeer(meta []treeMeta, counts []int, field func(treeMeta) int64) []int {
	out := make([]int, len(counts))
	next := 0
	for peer, count := range counts {
		for _, m := range meta[next : next+count] {
			out[peer] += int(field(m))
		}
		next += count
	}
	return out
}

// byteCounts rounds per-peer bit counts up to whole bytes.
func byteCounts(bits []int) []int {
	out := make([]int, len(bits))
	for i, b := range bits {
		out[i] = bitvec.ByteLen(b)
	}
	return out
}

func scaled(counts []int, f int) []int {
	out := make([]int, len(counts))
	for i, c := range counts {
		out[i] = c * f
	}
	return out
}

// exchangeMetadata encodes the outgoing trees and tells every rank how
// many trees it receives from each peer, with their ids, descriptor sizes,
// cell counts and mask sizes.
func (r *Redistributor) exchangeMetadata(ctx context.Context, p *plan) error {
	desc := bitvec.New(0)
	p.sentTrees = make([]int, p.n)
	p.descSendBytes = make([]int, p.n)
	for peer, ids := range p.toSend {
		peerBits := 0
		for _, id := range ids {
			t := p.in.Tree(id)
			d := t.ComputeBreadthFirstOrderDescriptor(p.in.DepthLimiter, p.in.Mask())
			desc.AppendRange(d.Bits, 0, d.Bits.Len())
			cells, maskBits := p.in.CountCells(t)
			p.sendMeta = append(p.sendMeta, treeMeta{
				id:       int64(id),
				descBits: int64(d.Bits.Len()),
				cells:    int64(cells),
				maskBits: int64(maskBits),
			})
			peerBits += d.Bits.Len()
		}
		// Each peer's region starts on a fresh byte.
		desc.PadToByte()
		p.descSendBytes[peer] = bitvec.ByteLen(peerBits)
		p.sentTrees[peer] = len(ids)
	}
	p.descSend = desc.Bytes()

	counts := make([]int64, p.n)
	for i, c := range p.sentTrees {
		counts[i] = int64(c)
	}
	gathered, err := comm.AllGather(ctx, r.comm, counts)
	if err != nil {
		return err
	}
	p.recvTrees = make([]int, p.n)
	for i := range p.recvTrees {
		p.recvTrees[i] = int(gathered[p.n*i+p.rank])
	}

	send := make([]int64, 0, len(p.sendMeta)*metaFields)
	for _, m := range p.sendMeta {
		send = append(send, m.id, m.descBits, m.cells, m.maskBits)
	}
	sendCounts := scaled(p.sentTrees, metaFields)
	recvCounts := scaled(p.recvTrees, metaFields)
	recv := make([]int64, comm.Total(recvCounts))
	err = comm.AllToAllV(ctx, r.comm,
		send, sendCounts, comm.Offsets(sendCounts),
		recv, recvCounts, comm.Offsets(recvCounts))
	if err != nil {
		return err
	}
	p.recvMeta = make([]treeMeta, 0, len(recv)/metaFields)
	for i := 0; i+metaFields <= len(recv); i += metaFields {
		p.recvMeta = append(p.recvMeta, treeMeta{
			id:       recv[i],
			descBits: recv[i+1],
			cells:    recv[i+2],
			maskBits: recv[i+3],
		})
	}
	p.rep.TreesReceived = len(p.recvMeta)
	r.log.Debug().
		Ints("sent", p.sentTrees).
		Ints("received", p.recvTrees).
		Msg("redistribute.Redistributor.exchangeMetadata")
	return nil
}

// exchangeDescriptors ships the descriptor bytes, rebuilds the received
// trees and adds copies of the retained ones. Global indices of the output
// are assigned here, so the cell table is sized before masks and cells
// arrive.
func (r *Redistributor) exchangeDescriptors(ctx context.Context, p *plan) error {
	recvBytes := byteCounts(perPeer(p.recvMeta, p.recvTrees, func(m treeMeta) int64 { return m.descBits }))
	recv := make([]uint8, comm.Total(recvBytes))
	err := comm.AllToAllV(ctx, r.comm,
		p.descSend, p.descSendBytes, comm.Offsets(p.descSendBytes),
		recv, recvBytes, comm.Offsets(recvBytes))
	if err != nil {
		return err
	}
	p.rep.DescriptorBytes = len(p.descSend)

	bits, err := bitvec.FromBytes(recv, len(recv)*8)
	if err != nil {
		return err
	}
	readOffset, next := 0, 0
	for _, count := range p.recvTrees {
		for _, m := range p.recvMeta[next : next+count] {
			t := htg.NewTree(int(m.id), p.out.NumberOfChildren())
			if err := t.BuildFromBreadthFirstOrderDescriptor(bits, int(m.descBits), readOffset); err != nil {
				return fmt.Errorf("%w: tree %d: %w", ErrExchangeMismatch, m.id, err)
			}
			if err := p.out.AddTree(t); err != nil {
				return fmt.Errorf("%w: tree %d: %w", ErrExchangeMismatch, m.id, err)
			}
			readOffset += int(m.descBits)
		}
		next += count
		readOffset = bitvec.RoundUpToByte(readOffset)
	}

	for _, id := range p.kept {
		if err := p.out.AddTree(p.in.Tree(id).Clone()); err != nil {
			return err
		}
	}
	p.out.InitializeGlobalIndices()
	p.out.CellData().Resize(p.out.NumberOfVertices())
	return nil
}

// exchangeMask ships one bit per visited node of every outgoing tree.
// Retained trees copy their bits for every node.
func (r *Redistributor) exchangeMask(ctx context.Context, p *plan) error {
	send := bitvec.New(0)
	sendBits := make([]int, p.n)
	for peer, ids := range p.toSend {
		for _, id := range ids {
			p.in.VisitCells(p.in.Tree(id), func(_, _ int, masked bool) {
				send.Append(masked)
				sendBits[peer]++
			})
		}
		send.PadToByte()
	}
	sendBytes := byteCounts(sendBits)
	recvBytes := byteCounts(perPeer(p.recvMeta, p.recvTrees, func(m treeMeta) int64 { return m.maskBits }))
	recv := make([]uint8, comm.Total(recvBytes))
	err := comm.AllToAllV(ctx, r.comm,
		send.Bytes(), sendBytes, comm.Offsets(sendBytes),
		recv, recvBytes, comm.Offsets(recvBytes))
	if err != nil {
		return err
	}
	p.rep.MaskBytes = len(send.Bytes())

	bits, err := bitvec.FromBytes(recv, len(recv)*8)
	if err != nil {
		return err
	}
	mask := bitvec.New(p.out.NumberOfVertices())
	p.out.SetMask(mask)
	for _, id := range p.kept {
		src, dst := p.in.Tree(id), p.out.Tree(id)
		for local := 0; local < src.NumberOfVertices(); local++ {
			mask.Set(dst.GlobalIndex(local), p.in.IsMasked(src.GlobalIndex(local)))
		}
	}

	readOffset, next := 0, 0
	for _, count := range p.recvTrees {
		for _, m := range p.recvMeta[next : next+count] {
			if readOffset+int(m.maskBits) > bits.Len() {
				return fmt.Errorf("%w: mask of tree %d overruns buffer", ErrExchangeMismatch, m.id)
			}
			used := p.out.ReadMask(p.out.Tree(int(m.id)), func() bool {
				on := bits.Get(readOffset)
				readOffset++
				return on
			})
			if used != int(m.maskBits) {
				return fmt.Errorf("%w: tree %d read %d mask bits, sender wrote %d", ErrExchangeMismatch, m.id, used, m.maskBits)
			}
		}
		next += count
		readOffset = bitvec.RoundUpToByte(readOffset)
	}
	return nil
}

// exchangeCells ships every cell array, one collective per array. Only
// unmasked visited nodes carry values; everything else stays zero.
func (r *Redistributor) exchangeCells(ctx context.Context, p *plan) error {
	for _, m := range p.recvMeta {
		cells, _ := p.out.CountCells(p.out.Tree(int(m.id)))
		if cells != int(m.cells) {
			return fmt.Errorf("%w: tree %d has %d cells, sender counted %d", ErrExchangeMismatch, m.id, cells, m.cells)
		}
	}
	sendCells := perPeer(p.sendMeta, p.sentTrees, func(m treeMeta) int64 { return m.cells })
	recvCells := perPeer(p.recvMeta, p.recvTrees, func(m treeMeta) int64 { return m.cells })

	outArrays := p.out.CellData().Arrays()
	for i, src := range p.in.CellData().Arrays() {
		dst := outArrays[i]
		comps := src.Components

		send := make([]float64, 0, comm.Total(sendCells)*comps)
		for _, ids := range p.toSend {
			for _, id := range ids {
				p.in.VisitCells(p.in.Tree(id), func(_, global int, masked bool) {
					if !masked {
						send = append(send, src.Tuple(global)...)
					}
				})
			}
		}
		sendCounts := scaled(sendCells, comps)
		recvCounts := scaled(recvCells, comps)
		recv := make([]float64, comm.Total(recvCounts))
		err := comm.AllToAllV(ctx, r.comm,
			send, sendCounts, comm.Offsets(sendCounts),
			recv, recvCounts, comm.Offsets(recvCounts))
		if err != nil {
			return fmt.Errorf("cell array %q: %w", src.Name, err)
		}
		p.rep.CellBytes += len(send) * comm.SizeOf[float64]()

		off := 0
		for _, m := range p.recvMeta {
			p.out.VisitCells(p.out.Tree(int(m.id)), func(_, global int, masked bool) {
				if masked {
					return
				}
				dst.SetTuple(global, recv[off:off+comps])
				off += comps
			})
		}
		for _, id := range p.kept {
			srcTree, dstTree := p.in.Tree(id), p.out.Tree(id)
			p.in.VisitCells(srcTree, func(local, global int, masked bool) {
				if !masked {
					dst.SetTuple(dstTree.GlobalIndex(local), src.Tuple(global))
				}
			})
		}
	}
	return nil
}
