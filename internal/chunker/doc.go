// Package chunker divides source files into line-bounded, overlapping windows
// for embedding and citation.
//
// Windows are counted in lines, not bytes, so every chunk maps to a human
// meaningful line range. With window W and overlap O the chunks of an N-line
// file are [1,W], [W-O+1, 2W-O], ... and the last window ends at line N. A
// file shorter than W yields exactly one chunk spanning the whole file.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.Config{Window: 40, Overlap: 10})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range c.Chunk("octo/demo", "main.py", content) {
//	    fmt.Printf("%s lines %d-%d\n", chunk.Path, chunk.LineStart, chunk.LineEnd)
//	}
//
// # Stability
//
// Chunk boundaries are a pure function of the content and (W, O), and chunk
// IDs are derived from (repository, path, window index). Re-chunking unchanged
// content therefore reproduces identical chunks, which is what makes
// incremental indexing idempotent.
//
// # Binary Files
//
// Content containing a NUL byte in its first 8000 bytes, or that is not valid
// UTF-8, is treated as binary and produces zero chunks.
package chunker
