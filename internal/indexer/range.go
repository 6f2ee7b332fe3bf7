package indexer

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// scanPlan is the window one cycle covers and the log queries that cover it.
type scanPlan struct {
	Window BlockRange
	Chunks []BlockRange
}

// planScan returns the blocks after cursor up to head, clamped to maxBlocks,
// cut into chunks of chunkSize. ok is false when the cursor has caught up.
// chunkSize and maxBlocks must be non-zero.
func planScan(cursor, head, maxBlocks, chunkSize uint64) (scanPlan, bool) {
	if cursor >= head {
		return scanPlan{}, false
	}

	window := BlockRange{From: cursor + 1, To: head}
	if head-cursor > maxBlocks {
		window.To = cursor + maxBlocks
	}

	chunks := make([]BlockRange, 0, (window.To-window.From)/chunkSize+1)
	for start := window.From; ; start += chunkSize {
		end := window.To
		if window.To-start >= chunkSize {
			end = start + chunkSize - 1
		}
		chunks = append(chunks, BlockRange{From: start, To: end})
		if end == window.To {
			break
		}
	}
	return scanPlan{Window: window, Chunks: chunks}, true
}
