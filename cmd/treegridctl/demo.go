package main

import (
	"github.com/danmuck/treegrid/internal/bitvec"
	"github.com/danmuck/treegrid/internal/config"
	"github.com/danmuck/treegrid/internal/dataset"
	"github.com/danmuck/treegrid/internal/htg"
)

// buildForest returns this rank's share of the demo forest: every slot t
// with t%size == rank, refined the same way on every run.
func buildForest(cfg config.Config, rank, size int) (*htg.Grid, error) {
	demo := cfg.Demo
	g, err := htg.NewGrid(demo.Extent(), demo.Dimension, demo.BranchFactor)
	if err != nil {
		return nil, err
	}
	g.DepthLimiter = cfg.Redistribute.DepthLimiter
	for id := rank; id < g.MaxTrees(); id += size {
		tree, err := g.NewTree(id)
		if err != nil {
			return nil, err
		}
		if err := tree.RefineWhere(demo.Levels, func(local, depth int) bool {
			return (local+id+depth)%3 != 1
		}); err != nil {
			return nil, err
		}
	}
	g.InitializeGlobalIndices()

	n := g.NumberOfVertices()
	density := dataset.NewArray("density", 1, n)
	level := dataset.NewArray("level", 1, n)
	var mask *bitvec.Vector
	if demo.MaskEvery > 0 {
		mask = bitvec.New(n)
	}
	for _, id := range g.TreeIDs() {
		tree := g.Tree(id)
		tree.WalkBreadthFirst(func(local, depth int) bool {
			global := tree.GlobalIndex(local)
			density.SetValue(global, float64(1000*id+local))
			level.SetValue(global, float64(depth))
			if mask != nil && local > 0 && local%demo.MaskEvery == 0 {
				mask.Set(global, true)
			}
			return true
		})
	}
	g.CellData().Add(density)
	g.CellData().Add(level)
	g.SetMask(mask)
	return g, nil
}

// slabWidth is the cell count along x of each rank's ghost demo block.
const slabWidth = 4

// buildSlab returns this rank's block of an image data slab split along x,
// with a cell field ghost passes can fill in.
func buildSlab(rank, size int) *dataset.Structured {
	whole := dataset.Extent{0, slabWidth * size, 0, 2, 0, 0}
	own := dataset.Extent{slabWidth * rank, slabWidth * (rank + 1), 0, 2, 0, 0}
	img := dataset.NewImage(own, whole, [3]float64{}, [3]float64{1, 1, 1})

	cells := own.CellExtent()
	temp := dataset.NewArray("temperature", 1, cells.Count())
	cells.Each(func(i, j, k int) {
		temp.SetValue(cells.Index(i, j, k), float64(100*rank+i))
	})
	img.CellData().Add(temp)
	return img
}
