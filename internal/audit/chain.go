package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbusmcp/opctl/pkg/models"
)

// DefaultChainBufferSize bounds the async append queue, matching Logger's
// BufferSize default.
const DefaultChainBufferSize = 1000

// DefaultChainFlushInterval bounds how long an append can sit buffered
// before being forced to disk.
const DefaultChainFlushInterval = 5 * time.Second

// Chain is the append-only Footprint ledger (the "Audit Chain"): every
// Footprint is appended monotonically to a JSON-lines file at
// OP_BLOCKCHAIN_PATH and never rewritten. The async queue-drain-to-disk
// loop is the same shape as Logger's writeLoop/flushBuffer, generalized
// from log Events to audit-chain Footprints.
type Chain struct {
	path   string
	file   *os.File
	fileMu sync.Mutex
	writer *bufio.Writer

	sequence atomic.Uint64

	buffer chan *models.Footprint
	wg     sync.WaitGroup
	done   chan struct{}

	flushInterval time.Duration
	logger        *slog.Logger
}

// OpenChain opens (creating if necessary) the ledger file at path,
// resumes the monotonic sequence counter from the last recorded
// Footprint, and starts the async writer loop.
func OpenChain(path string) (*Chain, error) {
	lastSeq, err := lastSequence(path)
	if err != nil {
		return nil, fmt.Errorf("audit: inspecting existing chain: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("audit: opening chain file %s: %w", path, err)
	}

	c := &Chain{
		path:          path,
		file:          f,
		writer:        bufio.NewWriter(f),
		buffer:        make(chan *models.Footprint, DefaultChainBufferSize),
		done:          make(chan struct{}),
		flushInterval: DefaultChainFlushInterval,
		logger:        slog.Default().With("component", "audit.chain"),
	}
	c.sequence.Store(lastSeq)

	c.wg.Add(1)
	go c.writeLoop()

	return c, nil
}

// lastSequence scans an existing ledger file for the highest recorded
// Footprint.Sequence, returning 0 if the file does not yet exist or is
// empty. Malformed trailing lines (a crash mid-write) are ignored rather
// than treated as fatal, matching the append-only "never rewritten"
// contract — a torn last line is simply not counted.
func lastSequence(path string) (uint64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var last uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var fp models.Footprint
		if err := json.Unmarshal(scanner.Bytes(), &fp); err != nil {
			continue
		}
		if fp.Sequence > last {
			last = fp.Sequence
		}
	}
	return last, nil
}

// Append records a new Footprint with the next sequence number and
// queues it for async write-through, falling back to a synchronous write
// if the buffer is saturated — mirroring Logger.Log's non-blocking
// select/default pattern.
func (c *Chain) Append(producer, operation string, data map[string]any) *models.Footprint {
	fp := &models.Footprint{
		Producer:  producer,
		Operation: operation,
		Data:      data,
		WallTime:  time.Now(),
		Sequence:  c.sequence.Add(1),
	}

	select {
	case c.buffer <- fp:
	default:
		c.writeFootprint(fp)
	}
	return fp
}

// Close drains any buffered footprints, flushes, and closes the ledger
// file.
func (c *Chain) Close() error {
	close(c.done)
	c.wg.Wait()
	return c.file.Close()
}

func (c *Chain) writeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case fp := <-c.buffer:
			c.writeFootprint(fp)
		case <-ticker.C:
			c.flushBuffer()
		case <-c.done:
			c.flushBuffer()
			return
		}
	}
}

func (c *Chain) flushBuffer() {
	for {
		select {
		case fp := <-c.buffer:
			c.writeFootprint(fp)
		default:
			return
		}
	}
}

func (c *Chain) writeFootprint(fp *models.Footprint) {
	b, err := json.Marshal(fp)
	if err != nil {
		c.logger.Error("marshal footprint", "error", err, "sequence", fp.Sequence)
		return
	}

	c.fileMu.Lock()
	defer c.fileMu.Unlock()
	c.writer.Write(b)
	c.writer.WriteByte('\n')
	if err := c.writer.Flush(); err != nil {
		c.logger.Error("flush footprint", "error", err, "sequence", fp.Sequence)
	}
}
