package scheduler

import (
	"fmt"
	"log"
	"runtime"
	"sync"

	metis "github.com/notargets/go-metis"
	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/utils"
)

// buildColored produces the threaded schedule: owned cells at the MPI
// boundary form their own partition, ordered first so that ghost exchange
// can overlap interior work; the remaining cells are partitioned into
// blocks with METIS and the block graph is greedily colored. Batches never
// straddle a block boundary.
func (s *Schedule) buildColored(m *mesh.Mesh, owned, ghost []int, opts Options) error {
	var (
		lanes    = s.VectorizationLength
		ownedSet = make(map[int]bool, len(owned))
	)
	for _, k := range owned {
		ownedSet[k] = true
	}
	var boundary, interior []int
	for _, k := range owned {
		atBoundary := false
		for _, nbr := range m.EToE[k] {
			if nbr >= 0 && !ownedSet[nbr] {
				atBoundary = true
				break
			}
		}
		if atBoundary {
			boundary = append(boundary, k)
		} else {
			interior = append(interior, k)
		}
	}

	blockSize := opts.BlockSize
	if blockSize == 0 {
		nThreads := opts.NThreads
		if nThreads == 0 {
			nThreads = runtime.NumCPU()
		}
		// aim for several blocks per thread, at least one batch per block
		blockSize = len(interior) / (8 * nThreads)
		if blockSize < lanes {
			blockSize = lanes
		}
	}
	s.BlockSize = blockSize

	blocks := partitionIntoBlocks(m, interior, blockSize, opts)
	colors := colorBlocks(m, blocks)

	// emit partitions: boundary first, then blocks grouped by color
	s.CellPartitionData = []int{0}
	s.PartitionRowIndex = []int{0}
	s.appendBatches(m, boundary, 0)
	s.CellPartitionData = append(s.CellPartitionData, len(s.Batches))
	s.PartitionRowIndex = append(s.PartitionRowIndex, len(s.CellPartitionData)-1)

	nColors := 0
	for _, c := range colors {
		if c+1 > nColors {
			nColors = c + 1
		}
	}
	for color := 0; color < nColors; color++ {
		emitted := false
		for b, blk := range blocks {
			if colors[b] != color || len(blk) == 0 {
				continue
			}
			s.appendBatches(m, blk, 0)
			s.CellPartitionData = append(s.CellPartitionData, len(s.Batches))
			emitted = true
		}
		if emitted {
			s.PartitionRowIndex = append(s.PartitionRowIndex, len(s.CellPartitionData)-1)
		}
	}
	// ghost cells after the hard partition cut
	if len(ghost) > 0 {
		s.appendBatches(m, ghost, 0)
		s.CellPartitionData = append(s.CellPartitionData, len(s.Batches))
		s.PartitionRowIndex = append(s.PartitionRowIndex, len(s.CellPartitionData)-1)
	}
	log.Printf("threaded schedule: %d boundary cells, %d blocks, %d colors, %d batches",
		len(boundary), len(blocks), nColors, len(s.Batches))
	return nil
}

// partitionIntoBlocks splits the interior cells into blocks of roughly
// blockSize cells using a k-way METIS partition of the cell adjacency
// graph. Cells within a block keep their traversal order, which keeps
// siblings of one parent adjacent for cache reuse.
func partitionIntoBlocks(m *mesh.Mesh, interior []int, blockSize int, opts Options) (blocks [][]int) {
	var (
		n       = len(interior)
		nBlocks = (n + blockSize - 1) / blockSize
	)
	if nBlocks <= 1 {
		if n == 0 {
			return nil
		}
		return [][]int{interior}
	}
	xadj, adjncy := adjacencyGraph(m, interior, opts.NThreads)
	mopts := make([]int32, metis.NoOptions)
	if err := metis.SetDefaultOptions(mopts); err != nil {
		panic(fmt.Errorf("failed to set METIS options: %w", err))
	}
	mopts[metis.OptionObjType] = metis.ObjTypeCut
	ubvec := []float32{1.05}
	part, _, err := metis.PartGraphKwayWeighted(
		xadj, adjncy, nil, nil, int32(nBlocks), nil, ubvec, mopts)
	if err != nil {
		// fall back to contiguous chunks of the traversal order
		log.Printf("METIS partitioning failed (%v); using traversal-order blocks", err)
		blocks = make([][]int, nBlocks)
		for i, k := range interior {
			b := i / blockSize
			blocks[b] = append(blocks[b], k)
		}
		return
	}
	blocks = make([][]int, nBlocks)
	for i, k := range interior {
		b := int(part[i])
		blocks[b] = append(blocks[b], k)
	}
	return
}

// adjacencyGraph assembles the CSR adjacency of the interior cells in
// METIS numbering. Edge discovery is embarrassingly parallel, so the cell
// range is split across workers that fill disjoint per-subrange outputs,
// merged without locking afterwards.
func adjacencyGraph(m *mesh.Mesh, interior []int, nThreads int) (xadj, adjncy []int32) {
	var (
		n     = len(interior)
		local = make(map[int]int32, n)
	)
	for i, k := range interior {
		local[k] = int32(i)
	}
	if nThreads == 0 {
		nThreads = runtime.NumCPU()
	}
	if nThreads > n {
		nThreads = 1
	}
	var (
		pm       = utils.NewPartitionMap(nThreads, n)
		perRange = make([][][]int32, nThreads)
		wg       sync.WaitGroup
	)
	for t := 0; t < nThreads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			kMin, kMax := pm.GetBucketRange(t)
			rows := make([][]int32, kMax-kMin)
			for i := kMin; i < kMax; i++ {
				k := interior[i]
				for _, nbr := range m.EToE[k] {
					if nbr < 0 {
						continue
					}
					if j, ok := local[nbr]; ok {
						rows[i-kMin] = append(rows[i-kMin], j)
					}
				}
			}
			perRange[t] = rows
		}(t)
	}
	wg.Wait()
	xadj = make([]int32, n+1)
	for t := 0; t < nThreads; t++ {
		kMin, _ := pm.GetBucketRange(t)
		for i, row := range perRange[t] {
			adjncy = append(adjncy, row...)
			xadj[kMin+i+1] = int32(len(adjncy))
		}
	}
	return
}

// colorBlocks greedily colors the block graph: two blocks conflict when any
// of their cells share a vertex, and with it possibly a dof. Same-color
// blocks can therefore scatter into a shared vector concurrently.
func colorBlocks(m *mesh.Mesh, blocks [][]int) (colors []int) {
	var (
		nBlocks        = len(blocks)
		blocksAtVertex = make(map[int][]int)
	)
	for b, blk := range blocks {
		for _, k := range blk {
			for _, v := range m.Cell(m.ActiveRefs[k]).Vertices {
				bs := blocksAtVertex[v]
				if len(bs) == 0 || bs[len(bs)-1] != b {
					blocksAtVertex[v] = append(bs, b)
				}
			}
		}
	}
	adjacent := make([]map[int]bool, nBlocks)
	for b := range adjacent {
		adjacent[b] = make(map[int]bool)
	}
	for _, bs := range blocksAtVertex {
		for i := 0; i < len(bs); i++ {
			for j := i + 1; j < len(bs); j++ {
				if bs[i] != bs[j] {
					adjacent[bs[i]][bs[j]] = true
					adjacent[bs[j]][bs[i]] = true
				}
			}
		}
	}
	colors = make([]int, nBlocks)
	for b := 0; b < nBlocks; b++ {
		used := make(map[int]bool)
		for nb := range adjacent[b] {
			if nb < b {
				used[colors[nb]] = true
			}
		}
		c := 0
		for used[c] {
			c++
		}
		colors[b] = c
	}
	return
}
